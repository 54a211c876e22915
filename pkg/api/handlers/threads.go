package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/chat"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/threads"
)

// RegisterThreads registers thread, message and dispatch routes.
func (a *API) RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", a.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads", a.createThread).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}", a.getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}", a.deleteThread).Methods(http.MethodDelete)
	r.HandleFunc("/threads/{threadID}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/last-model", a.lastModel).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/stream", a.streamThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/tools/{toolName}", a.invokeTool).Methods(http.MethodPost)
}

// listThreads returns the caller's threads, newest first.
func (a *API) listThreads(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Ensure(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.Threads.List(user.ID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Thread{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": list})
}

func (a *API) createThread(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Ensure(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	th, err := a.Threads.Create(user.ID, body.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, th)
}

func (a *API) getThread(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	th, err := a.Threads.Get(mux.Vars(r)["threadID"], user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (a *API) deleteThread(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Threads.Delete(r.Context(), mux.Vars(r)["threadID"], user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messagePage struct {
	Messages []models.Message `json:"messages"`
	// Next is the cursor for the following page, 0 when exhausted.
	Next uint64 `json:"next"`
	// Deltas and StreamCursor are present when a stream was requested.
	Deltas       []models.Delta `json:"deltas,omitempty"`
	StreamCursor *uint64        `json:"stream_cursor,omitempty"`
}

// listMessages pages messages by sequence. With ?stream=<promptID> it also
// returns that stream's deltas from ?stream_cursor on.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
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
	msgs, next, err := store.ListMessages(threadID, queryUint(r, "after"), queryInt(r, "limit", a.PageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := messagePage{Messages: msgs, Next: next}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	if sid := r.URL.Query().Get("stream"); sid != "" {
		ds, cur, err := a.Streams.Read(threadID, sid, queryUint(r, "stream_cursor"), queryInt(r, "stream_limit", 0))
		if err != nil {
			writeError(w, r, err)
			return
		}
		page.Deltas = ds
		page.StreamCursor = &cur
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) lastModel(w http.ResponseWriter, r *http.Request) {
	model, err := a.Chat.LastModel(r.Context(), mux.Vars(r)["threadID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"modelId": model})
}

// invokeTool runs a tool directly. The body is the tool's argument object;
// ?modelId= optionally pins the model recorded in the tool context.
func (a *API) invokeTool(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, apperr.Invalid("body", "request body too large"))
		return
	}
	out, err := a.Chat.Invoke(r.Context(), chat.InvokeRequest{
		ThreadID: vars["threadID"],
		Tool:     vars["toolName"],
		Args:     json.RawMessage(args),
		ModelID:  r.URL.Query().Get("modelId"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": rawOrNull(out)})
}
