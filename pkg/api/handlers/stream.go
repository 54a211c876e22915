package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/threads"
)

// streamThread serves the thread's deltas as server-sent events. Each event
// id is "<streamID>:<pos>". With ?stream=<promptID>&cursor=<n> (or a
// Last-Event-ID of the same shape) the stored deltas of that stream are
// replayed first. A subscriber that falls behind gets a "resync" event and
// the connection ends; the client reloads through the messages endpoint.
func (a *API) streamThread(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	threadID := mux.Vars(r)["threadID"]
	if _, err := threads.Authorize(threadID, user.ID, false); err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}

	streamID, cursor := r.URL.Query().Get("stream"), queryUint(r, "cursor")
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if sid, pos, ok := parseEventID(last); ok {
			streamID, cursor = sid, pos+1
		}
	}

	sub := a.Streams.Subscribe(threadID, 256)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// next holds the first position not yet sent, per stream
	next := map[string]uint64{}
	if streamID != "" {
		ds, cur, err := a.Streams.Read(threadID, streamID, cursor, 0)
		if err != nil {
			logger.Warn("stream_replay_failed", "thread", threadID, "stream", streamID, "error", err)
			return
		}
		for _, d := range ds {
			if err := writeEvent(w, d); err != nil {
				return
			}
		}
		next[streamID] = cur
	}
	flusher.Flush()

	hb := a.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d, open := <-sub.C:
			if !open {
				if sub.Lagged() {
					_, _ = fmt.Fprint(w, "event: resync\ndata: {}\n\n")
				} else {
					_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				}
				flusher.Flush()
				return
			}
			if n, seen := next[d.MessageID]; seen && d.Pos < n {
				continue
			}
			next[d.MessageID] = d.Pos + 1
			if err := writeEvent(w, d); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, d models.Delta) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", d.MessageID, d.Pos, d.Kind, b)
	return err
}

func parseEventID(id string) (string, uint64, bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return "", 0, false
	}
	pos, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], pos, true
}
