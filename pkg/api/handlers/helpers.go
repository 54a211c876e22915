// Package handlers implements the /v1 HTTP surface on gorilla/mux.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/chat"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/users"
	"assetdesk/pkg/utils"
)

// API holds what the handlers call into.
type API struct {
	Chat    *chat.Pipeline
	Threads *threads.Service
	Users   *users.Resolver
	Streams *stream.Log
	// PageSize is the default message page.
	PageSize int
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// writeError maps err to a status and a caller-safe body. Internal causes
// are logged here and never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request_failed", "path", r.URL.Path, "status", status, "error", err)
	}
	utils.JSONErrorField(w, status, apperr.Public(err), apperr.FieldOf(err))
}

func decode(r *http.Request, v interface{}) error {
	if err := utils.DecodeJSON(r, v); err != nil {
		return apperr.Invalid("body", "invalid json")
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryUint(r *http.Request, name string) uint64 {
	n, _ := strconv.ParseUint(r.URL.Query().Get(name), 10, 64)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if err := utils.JSONWrite(w, status, v); err != nil {
		logger.Warn("response_encode_failed", "error", err)
	}
}

func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// notFoundAs turns a store miss into a NotFound error with the given message.
func notFoundAs(err error, format string, args ...interface{}) error {
	if isNotFound(err) {
		return apperr.NotFound(format, args...)
	}
	return err
}
