package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
)

// AppendOptions adjusts AppendMessage.
type AppendOptions struct {
	// TitleIfFirstUser is applied as the thread title when msg is a user
	// message, the thread has no title, and no user message exists yet.
	TitleIfFirstUser string
}

// AppendResult reports what AppendMessage wrote.
type AppendResult struct {
	Message models.Message
	Titled  bool
}

// AppendMessage assigns the next sequence number in the thread and writes
// the message together with the updated thread metadata in one batch. The
// per-thread lock makes this the single append point.
func AppendMessage(msg models.Message, opts AppendOptions) (AppendResult, error) {
	var res AppendResult
	if db == nil {
		return res, ErrNotOpen
	}
	if msg.ID == "" || msg.ThreadID == "" {
		return res, errors.New("message id and thread id are required")
	}
	mu := lockFor(msg.ThreadID)
	mu.Lock()
	defer mu.Unlock()

	th, err := GetThread(msg.ThreadID)
	if err != nil {
		return res, err
	}
	now := time.Now().UTC().UnixNano()
	th.LastSeq++
	th.UpdatedTS = now
	msg.Seq = th.LastSeq
	if msg.CreatedTS == 0 {
		msg.CreatedTS = now
	}
	if msg.Role == models.RoleUser {
		if strings.TrimSpace(th.Title) == "" && th.UserMessages == 0 && opts.TitleIfFirstUser != "" {
			th.Title = opts.TitleIfFirstUser
			res.Titled = true
		}
		th.UserMessages++
	}

	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, msgKey(msg.ThreadID, msg.Seq), msg); err != nil {
		return res, err
	}
	if err := b.Set([]byte(msgIndexKey(msg.ID)), []byte(msg.ThreadID+"\x00"+strconv.FormatUint(msg.Seq, 10)), nil); err != nil {
		return res, err
	}
	if msg.Status == models.StatusStreaming {
		if err := b.Set([]byte(streamingKey(msg.ID)), []byte(msg.ThreadID), nil); err != nil {
			return res, err
		}
	}
	if err := setJSON(b, threadMetaKey(th.ID), th); err != nil {
		return res, err
	}
	if err := commit(b, msgKey(msg.ThreadID, msg.Seq)); err != nil {
		return res, err
	}
	logger.Log.Info("message_saved", zap.String("thread", msg.ThreadID), zap.String("msg_id", msg.ID), zap.Uint64("seq", msg.Seq), zap.String("role", string(msg.Role)))
	res.Message = msg
	return res, nil
}

func locateMessage(msgID string) (threadID string, seq uint64, err error) {
	raw, err := getRaw([]byte(msgIndexKey(msgID)))
	if err != nil {
		return "", 0, err
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("corrupt message index for %s", msgID)
	}
	seq, err = strconv.ParseUint(parts[1], 10, 64)
	return parts[0], seq, err
}

// GetMessage loads a message by id.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	threadID, seq, err := locateMessage(msgID)
	if err != nil {
		return m, err
	}
	err = getJSON(msgKey(threadID, seq), &m)
	return m, err
}

// UpdateMessage rewrites a message in place, keeping its sequence. When the
// message leaves the streaming state its streaming index entry is dropped
// and its delta stream is queued for compaction.
func UpdateMessage(msg models.Message) error {
	if db == nil {
		return ErrNotOpen
	}
	threadID, seq, err := locateMessage(msg.ID)
	if err != nil {
		return err
	}
	msg.ThreadID = threadID
	msg.Seq = seq
	msg.UpdatedTS = time.Now().UTC().UnixNano()

	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, msgKey(threadID, seq), msg); err != nil {
		return err
	}
	if msg.Status.Finished() {
		if err := b.Delete([]byte(streamingKey(msg.ID)), nil); err != nil {
			return err
		}
		if msg.PromptID != "" {
			if err := b.Set([]byte(finishedKey(msg.UpdatedTS, threadID, msg.PromptID)), nil, nil); err != nil {
				return err
			}
		}
	}
	return commit(b, msgKey(threadID, seq))
}

// ErrMessageFinished is returned by UpdateStreamingMessage once the stored
// message is complete or error.
var ErrMessageFinished = errors.New("message already finished")

// UpdateStreamingMessage is UpdateMessage guarded by a compare-and-set: it
// writes only while the stored copy is still streaming and its thread is
// live. Generations and the stale sweeper both finish messages through it,
// so whichever writes first wins and the other gets ErrMessageFinished.
func UpdateStreamingMessage(msg models.Message) error {
	if db == nil {
		return ErrNotOpen
	}
	threadID, _, err := locateMessage(msg.ID)
	if err != nil {
		return err
	}
	mu := lockFor(threadID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := GetThread(threadID); err != nil {
		return err
	}
	cur, err := GetMessage(msg.ID)
	if err != nil {
		return err
	}
	if cur.Status.Finished() {
		return ErrMessageFinished
	}
	return UpdateMessage(msg)
}

// ListMessages returns up to limit messages with Seq > afterSeq in append
// order, plus the cursor for the next page (0 when exhausted).
func ListMessages(threadID string, afterSeq uint64, limit int) ([]models.Message, uint64, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Message
	start := []byte(msgKey(threadID, afterSeq+1))
	prefix := []byte(msgPrefix(threadID))
	more := false
	err := scanFrom(prefix, start, func(k, v []byte) (bool, error) {
		if len(out) == limit {
			more = true
			return false, nil
		}
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, errors.Wrapf(err, "decode %s", k)
		}
		out = append(out, m)
		return true, nil
	})
	if err != nil {
		return nil, 0, err
	}
	var next uint64
	if more && len(out) > 0 {
		next = out[len(out)-1].Seq
	}
	return out, next, nil
}

// CountUserMessages returns how many user messages the thread holds.
func CountUserMessages(threadID string) (int, error) {
	th, err := GetThread(threadID)
	if err != nil {
		return 0, err
	}
	return th.UserMessages, nil
}

// LastAssistantModel returns the model of the most recent assistant message
// in the thread, or "" when none exists.
func LastAssistantModel(threadID string) (string, error) {
	model := ""
	err := scanPrefixReverse([]byte(msgPrefix(threadID)), func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return true, nil
		}
		if m.Role == models.RoleAssistant && m.Model != "" {
			model = m.Model
			return false, nil
		}
		return true, nil
	})
	return model, err
}

// StreamingMessage identifies an unfinished assistant message.
type StreamingMessage struct {
	MessageID string
	ThreadID  string
}

// ListStreaming returns up to limit messages still marked streaming.
func ListStreaming(limit int) ([]StreamingMessage, error) {
	var out []StreamingMessage
	err := scanPrefix([]byte("streaming:"), func(k, v []byte) (bool, error) {
		out = append(out, StreamingMessage{
			MessageID: strings.TrimPrefix(string(k), "streaming:"),
			ThreadID:  string(v),
		})
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

func messageIDOf(v []byte) string {
	var m struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(v, &m) != nil {
		return ""
	}
	return m.ID
}
