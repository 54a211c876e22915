package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONErrorField(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONErrorField(rec, http.StatusBadRequest, "prompt must not be empty", "prompt")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["field"] != "prompt" || body["error"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"prompt":"hi"}`))
	var in struct{ Prompt string }
	if err := DecodeJSON(r, &in); err != nil || in.Prompt != "hi" {
		t.Fatalf("decode failed: %v %+v", err, in)
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		for _, id := range []string{NewThreadID(), NewMessageID(), NewEntityID()} {
			if seen[id] {
				t.Fatalf("duplicate id %s", id)
			}
			seen[id] = true
		}
	}
}
