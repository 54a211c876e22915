package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/config"
	"assetdesk/pkg/logger"
)

// RegisterSigning registers the identity signing endpoint. Only backend
// keys may call it.
func (a *API) RegisterSigning(r *mux.Router) {
	r.HandleFunc("/_sign", a.sign).Methods(http.MethodPost)
}

// sign returns the X-User-Signature for a user id under the caller's own
// API key and, when a token secret is configured, an X-User-Token that also
// carries the profile.
func (a *API) sign(w http.ResponseWriter, r *http.Request) {
	if auth.RoleFromContext(r.Context()) != auth.RoleBackend {
		logger.Warn("sign_forbidden", "role", auth.RoleFromContext(r.Context()).String(), "remote", r.RemoteAddr)
		writeError(w, r, apperr.Forbidden())
		return
	}
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		key = strings.TrimSpace(h[7:])
	}

	var body struct {
		UserID   string `json:"userId"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
		TTL      string `json:"ttl"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		writeError(w, r, apperr.Invalid("userId", "userId is required"))
		return
	}
	out := map[string]string{"userId": body.UserID, "signature": auth.SignUserID(key, body.UserID)}

	if secret, issuer := config.GetTokenSecret(); secret != "" {
		ttl := time.Hour
		if body.TTL != "" {
			d, err := time.ParseDuration(body.TTL)
			if err != nil || d <= 0 {
				writeError(w, r, apperr.Invalid("ttl", "ttl must be a positive duration"))
				return
			}
			ttl = d
		}
		tok, err := auth.IssueToken(secret, issuer, auth.Identity{
			Subject:  body.UserID,
			Name:     body.Name,
			Nickname: body.Nickname,
			Email:    body.Email,
		}, ttl)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out["token"] = tok
	}
	logger.Info("identity_signed", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, out)
}
