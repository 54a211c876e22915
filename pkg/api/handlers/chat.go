package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"assetdesk/pkg/chat"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/store"
)

// RegisterChat registers the send entry point and user provisioning.
func (a *API) RegisterChat(r *mux.Router) {
	r.HandleFunc("/chat/send", a.send).Methods(http.MethodPost)
	r.HandleFunc("/users/ensure", a.ensureUser).Methods(http.MethodPost)
	r.HandleFunc("/config/{key}", a.getConfig).Methods(http.MethodGet)
}

// send persists a prompt and returns 202; the answer arrives as deltas.
func (a *API) send(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.Chat.Send(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) ensureUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.Ensure(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": user.ID, "user": user})
}

// getConfig reads one App Configuration key. The model list reads as an
// empty array when unset so clients can render an empty picker.
func (a *API) getConfig(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	e, err := store.GetConfig(key)
	if err != nil {
		if key == llm.ConfigModels && isNotFound(err) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": []string{}})
			return
		}
		writeError(w, r, notFoundAs(err, "config key %s not found", key))
		return
	}
	writeJSON(w, http.StatusOK, e)
}
