package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/api/handlers"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/chat"
	"assetdesk/pkg/config"
	"assetdesk/pkg/ingest"
	"assetdesk/pkg/ingest/queue"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/tools"
	"assetdesk/pkg/users"
)

const (
	backendKey  = "backend-key"
	frontendKey = "frontend-key"
)

type harness struct {
	srv   *httptest.Server
	model *llm.Scripted
}

func newHarness(t *testing.T, turns ...llm.Turn) *harness {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, llm.SeedModels([]string{"gpt-a", "gpt-b"}))

	cfg := &config.Config{}
	cfg.Security.APIKeys.Backend = []string{backendKey}
	cfg.Security.APIKeys.Frontend = []string{frontendKey}
	config.SetRuntime(config.NewRuntime(cfg))
	t.Cleanup(func() { config.SetRuntime(nil) })

	logs := stream.New()
	q := queue.New(queue.Options{Capacity: 16})
	svc := threads.NewService(logs, config.ChatConfig{})
	model := llm.NewScripted(turns...)
	pipe := chat.New(chat.Deps{
		Users:   users.NewResolver(),
		Threads: svc,
		Tools:   tools.NewRegistry(),
		Model:   model,
		Queue:   q,
		Streams: logs,
	}, config.ModelsConfig{MaxSteps: 3}, config.ChatConfig{})

	proc := ingest.NewProcessor(q, 1)
	pipe.Register(proc)
	proc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = proc.Stop(ctx)
	})

	a := &handlers.API{Chat: pipe, Threads: svc, Users: users.NewResolver(), Streams: logs, PageSize: 50}
	sec := auth.NewSecConfig(cfg)
	sec.RPS, sec.Burst = 1000, 1000
	h := NewRouter(a, Options{Security: sec, Ready: func() error { return nil }, Version: "test"})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, model: model}
}

// do sends a request as user (empty for none) with the backend key.
func (h *harness) do(t *testing.T, method, path, user string, body interface{}) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", backendKey)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := h.srv.Client().Get(h.srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}

func TestSendThenReadMessages(t *testing.T) {
	h := newHarness(t, llm.Turn{Chunks: []string{"Restart", " it."}})

	code, body := h.do(t, http.MethodPost, "/v1/chat/send", "alice", map[string]string{
		"prompt": "my monitor keeps flickering", "modelId": "gpt-a",
	})
	require.Equal(t, http.StatusAccepted, code, string(body))
	var sent chat.SendResult
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.True(t, sent.Created)
	assert.Equal(t, "my monitor keeps flickering", sent.Title)

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	require.Eventually(t, func() bool {
		code, body := h.do(t, http.MethodGet, "/v1/threads/"+sent.ThreadID+"/messages", "alice", nil)
		if code != http.StatusOK || json.Unmarshal(body, &page) != nil || len(page.Messages) != 2 {
			return false
		}
		return page.Messages[1].Status == models.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.RoleUser, page.Messages[0].Role)
	assert.Equal(t, "Restart it.", page.Messages[1].Text)

	code, body = h.do(t, http.MethodGet, "/v1/threads/"+sent.ThreadID+"/last-model", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"modelId":"gpt-a"}`, string(body))

	code, body = h.do(t, http.MethodGet, "/v1/threads/"+sent.ThreadID+"/messages?stream="+sent.MessageID, "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var synced struct {
		Deltas       []models.Delta `json:"deltas"`
		StreamCursor uint64         `json:"stream_cursor"`
	}
	require.NoError(t, json.Unmarshal(body, &synced))
	assert.Len(t, synced.Deltas, 3)
	assert.Equal(t, uint64(3), synced.StreamCursor)
}

func TestSendErrors(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/v1/chat/send", "", map[string]string{"prompt": "hi", "modelId": "gpt-a"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := h.do(t, http.MethodPost, "/v1/chat/send", "alice", map[string]string{"prompt": "  ", "modelId": "gpt-a"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"error":"prompt must not be empty","field":"prompt"}`, string(body))

	code, body = h.do(t, http.MethodPost, "/v1/threads", "alice", nil)
	require.Equal(t, http.StatusCreated, code)
	var th models.Thread
	require.NoError(t, json.Unmarshal(body, &th))

	code, body = h.do(t, http.MethodPost, "/v1/chat/send", "mallory", map[string]string{
		"prompt": "hi", "modelId": "gpt-a", "threadId": th.ID,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.JSONEq(t, `{"error":"not authorized"}`, string(body))

	code, _ = h.do(t, http.MethodPost, "/v1/chat/send", "alice", map[string]string{
		"prompt": "hi", "modelId": "gpt-a", "threadId": "missing",
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestToolDispatch(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/v1/threads", "alice", map[string]string{"title": "desk"})
	require.Equal(t, http.StatusCreated, code)
	var th models.Thread
	require.NoError(t, json.Unmarshal(body, &th))
	assert.Equal(t, "desk", th.Title)

	code, body = h.do(t, http.MethodPost, "/v1/threads/"+th.ID+"/tools/getCurrentDateTime", "alice", map[string]string{})
	require.Equal(t, http.StatusOK, code, string(body))
	var out struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	_, err := time.Parse(time.RFC3339, out.Result)
	assert.NoError(t, err)

	code, _ = h.do(t, http.MethodPost, "/v1/threads/"+th.ID+"/tools/launchRockets", "alice", map[string]string{})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/v1/threads/"+th.ID+"/tools/getCurrentDateTime", "bob", map[string]string{})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestDeleteThread(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/v1/threads", "alice", nil)
	require.Equal(t, http.StatusCreated, code)
	var th models.Thread
	require.NoError(t, json.Unmarshal(body, &th))

	code, _ = h.do(t, http.MethodDelete, "/v1/threads/"+th.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.do(t, http.MethodDelete, "/v1/threads/"+th.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodGet, "/v1/threads/"+th.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminConfigAndSeeding(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPut, "/v1/admin/config/openrouter_models", "", map[string]interface{}{
		"value": []string{"gpt-b"},
	})
	require.Equal(t, http.StatusOK, code, string(body))
	var e models.ConfigEntry
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "backend", e.UpdatedBy)

	code, body = h.do(t, http.MethodGet, "/v1/config/openrouter_models", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &e))
	assert.JSONEq(t, `["gpt-b"]`, string(e.Value))

	code, _ = h.do(t, http.MethodGet, "/v1/config/nope", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = h.do(t, http.MethodPost, "/v1/admin/users", "", map[string]string{"externalId": "carol", "name": "Carol"})
	require.Equal(t, http.StatusCreated, code, string(body))
	var u models.User
	require.NoError(t, json.Unmarshal(body, &u))

	code, body = h.do(t, http.MethodPost, "/v1/admin/machines", "", map[string]interface{}{
		"name": "LT-01", "make": "Lenovo", "model": "T14", "ramGb": 16, "assignedToUserId": u.ID,
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = h.do(t, http.MethodPost, "/v1/admin/machines", "", map[string]interface{}{"name": "LT-02", "make": "Dell"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), `"field":"model"`)

	code, body = h.do(t, http.MethodPost, "/v1/admin/teams", "", map[string]string{"name": "Service Desk"})
	require.Equal(t, http.StatusCreated, code)
	var team models.Team
	require.NoError(t, json.Unmarshal(body, &team))

	code, _ = h.do(t, http.MethodPost, "/v1/admin/teams/"+team.ID+"/members", "", map[string]string{"userId": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodPost, "/v1/admin/teams/"+team.ID+"/members", "", map[string]string{"userId": u.ID})
	assert.Equal(t, http.StatusCreated, code)
}

func TestFrontendKeyScope(t *testing.T) {
	h := newHarness(t)
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/admin/config", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", frontendKey)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSignedIdentity(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/v1/_sign", "", map[string]string{"userId": "dana"})
	require.Equal(t, http.StatusOK, code, string(body))
	var signed map[string]string
	require.NoError(t, json.Unmarshal(body, &signed))
	assert.Equal(t, auth.SignUserID(backendKey, "dana"), signed["signature"])

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/users/ensure", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", frontendKey)
	req.Header.Set("X-User-ID", "dana")
	req.Header.Set("X-User-Signature", signed["signature"])
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
