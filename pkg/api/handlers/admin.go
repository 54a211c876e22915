package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/utils"
	"assetdesk/pkg/validation"
)

// RegisterAdmin registers backend/admin routes onto the admin subrouter.
// The gateway has already restricted the role.
func (a *API) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/stats", a.adminStats).Methods(http.MethodGet)
	r.HandleFunc("/config", a.adminListConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/{key}", a.adminSetConfig).Methods(http.MethodPut)
	r.HandleFunc("/users", a.adminCreateUser).Methods(http.MethodPost)
	r.HandleFunc("/machines", a.adminCreateMachine).Methods(http.MethodPost)
	r.HandleFunc("/teams", a.adminCreateTeam).Methods(http.MethodPost)
	r.HandleFunc("/teams/{teamID}/members", a.adminAddMember).Methods(http.MethodPost)
	r.HandleFunc("/purges/resume", a.adminResumePurges).Methods(http.MethodPost)
	logger.Info("admin_routes_registered")
}

// actor names who made an admin change, for updatedBy fields.
func actor(r *http.Request) string {
	who := auth.RoleFromContext(r.Context()).String()
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		who += ":" + id.Subject
	}
	return who
}

func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pebble": store.GetPebbleMetrics()})
}

func (a *API) adminListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := store.ListConfig()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.ConfigEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"config": entries})
}

// adminSetConfig stores the body, any JSON value, under key.
func (a *API) adminSetConfig(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(mux.Vars(r)["key"])
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.Value) == 0 {
		writeError(w, r, apperr.Invalid("value", "value is required"))
		return
	}
	e, err := store.SetConfig(key, body.Value, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.AuditEvent("app_config_set", zap.String("key", key), zap.String("by", e.UpdatedBy))
	writeJSON(w, http.StatusOK, e)
}

var userRules = validation.Rules{
	Required: []string{"externalId", "name"},
	Types:    map[string]string{"externalId": "string", "name": "string", "email": "string"},
	NonBlank: []string{"externalId", "name"},
}

// adminCreateUser provisions a user ahead of their first sign-in so tickets
// can be assigned to them. Repeating it for one externalId updates the
// profile in place.
func (a *API) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExternalID string `json:"externalId"`
		Name       string `json:"name"`
		Email      string `json:"email"`
	}
	if err := decodeValidated(r, userRules, &body); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := store.UpsertUserByExternalID(body.ExternalID, func(existing *models.User) (models.User, bool) {
		if existing != nil {
			next := *existing
			next.Name, next.Email = body.Name, body.Email
			return next, next != *existing
		}
		return models.User{
			ID:         utils.NewEntityID(),
			ExternalID: body.ExternalID,
			Name:       body.Name,
			Email:      body.Email,
			CreatedAt:  time.Now().UTC(),
		}, true
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.AuditEvent("user_provisioned", zap.String("user", u.ID), zap.String("external_id", u.ExternalID), zap.String("by", actor(r)))
	writeJSON(w, http.StatusCreated, u)
}

var machineRules = validation.Rules{
	Required: []string{"name", "make", "model"},
	NonBlank: []string{"name"},
	Types: map[string]string{
		"name": "string", "make": "string", "model": "string", "serialNumber": "string",
		"type": "string", "ramGb": "number", "storageCapacityGb": "number", "storageType": "string",
		"graphicsCardName": "string", "processorName": "string", "assignedToUserId": "string", "status": "string",
	},
}

func (a *API) adminCreateMachine(w http.ResponseWriter, r *http.Request) {
	var m models.Machine
	if err := decodeValidated(r, machineRules, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if m.AssignedToUserID != "" {
		u, err := store.GetUser(m.AssignedToUserID)
		if err != nil {
			writeError(w, r, notFoundAs(err, "user with ID %s not found", m.AssignedToUserID))
			return
		}
		m.AssignedToUserEmail = u.Email
	}
	m.ID = utils.NewEntityID()
	m.CreatedAt = time.Now().UTC()
	if err := store.PutMachine(m); err != nil {
		writeError(w, r, err)
		return
	}
	logger.AuditEvent("machine_created", zap.String("machine", m.ID), zap.String("by", actor(r)))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) adminCreateTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	rules := validation.Rules{Required: []string{"name"}, Types: map[string]string{"name": "string"}, NonBlank: []string{"name"}}
	if err := decodeValidated(r, rules, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t := models.Team{ID: utils.NewEntityID(), Name: strings.TrimSpace(body.Name), CreatedAt: time.Now().UTC()}
	if err := store.PutTeam(t); err != nil {
		writeError(w, r, err)
		return
	}
	logger.AuditEvent("team_created", zap.String("team", t.ID), zap.String("by", actor(r)))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) adminAddMember(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["teamID"]
	var body struct {
		UserID string `json:"userId"`
	}
	rules := validation.Rules{Required: []string{"userId"}, Types: map[string]string{"userId": "string"}}
	if err := decodeValidated(r, rules, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := store.GetTeam(teamID); err != nil {
		writeError(w, r, notFoundAs(err, "team with ID %s not found", teamID))
		return
	}
	if _, err := store.GetUser(body.UserID); err != nil {
		writeError(w, r, notFoundAs(err, "user with ID %s not found", body.UserID))
		return
	}
	if err := store.AddTeamMember(teamID, body.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.AuditEvent("team_member_added", zap.String("team", teamID), zap.String("user", body.UserID), zap.String("by", actor(r)))
	writeJSON(w, http.StatusCreated, map[string]string{"teamId": teamID, "userId": body.UserID})
}

// adminResumePurges finishes thread deletions interrupted by a restart.
func (a *API) adminResumePurges(w http.ResponseWriter, r *http.Request) {
	n, err := a.Threads.ResumePurges(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resumed": n})
}

// decodeValidated checks the body against rules before decoding it into v.
func decodeValidated(r *http.Request, rules validation.Rules, v interface{}) error {
	var raw map[string]interface{}
	if err := decode(r, &raw); err != nil {
		return err
	}
	if raw == nil {
		return apperr.Invalid("body", "a JSON object is required")
	}
	if err := rules.Validate(raw); err != nil {
		return err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.Invalid("body", "invalid json")
	}
	return nil
}
