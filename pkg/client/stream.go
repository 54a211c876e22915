package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"assetdesk/pkg/models"
)

// Event is one server-sent event from a thread stream. Delta is set for
// delta events; "resync" and "closed" carry none.
type Event struct {
	ID    string
	Name  string
	Delta *models.Delta
}

// Stream follows a thread's live deltas. With streamID set, that prompt's
// stored deltas from cursor are replayed first. The channel closes when the
// server ends the stream, ctx ends, or the connection fails; Err on the
// returned StreamReader reports why.
func (c *Client) Stream(ctx context.Context, threadID, streamID string, cursor uint64) (*StreamReader, error) {
	q := url.Values{}
	if streamID != "" {
		q.Set("stream", streamID)
		q.Set("cursor", strconv.FormatUint(cursor, 10))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/stream", q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	// the default client timeout would cut a long-lived stream
	hc := *c.hc
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	sr := &StreamReader{events: make(chan Event, 64)}
	go sr.read(resp)
	return sr, nil
}

// StreamReader delivers parsed events.
type StreamReader struct {
	events chan Event
	err    error
}

func (s *StreamReader) Events() <-chan Event { return s.events }

// Err is valid after Events is closed.
func (s *StreamReader) Err() error { return s.err }

func (s *StreamReader) read(resp *http.Response) {
	defer close(s.events)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 4<<20)
	var ev Event
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && data.Len() == 0 {
				continue
			}
			if ev.Name == "" {
				ev.Name = "message"
			}
			if ev.Name != "resync" && ev.Name != "closed" && data.Len() > 0 {
				var d models.Delta
				if err := json.Unmarshal([]byte(data.String()), &d); err != nil {
					s.err = errors.Wrap(err, "decode delta")
					return
				}
				ev.Delta = &d
			}
			s.events <- ev
			if ev.Name == "resync" || ev.Name == "closed" {
				return
			}
			ev = Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[5:]))
		}
	}
	if err := sc.Err(); err != nil {
		s.err = err
	}
}
