package logger

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndAttachAuditSink(t *testing.T) {
	Init()
	if Log == nil {
		t.Fatalf("expected Log to be non-nil after Init")
	}

	auditDir := filepath.Join(t.TempDir(), "audit")
	if err := AttachAuditFileSink(auditDir); err != nil {
		t.Fatalf("AttachAuditFileSink failed: %v", err)
	}
	AuditEvent("config_set")
	Sync()

	b, err := os.ReadFile(filepath.Join(auditDir, "audit.log"))
	if err != nil {
		t.Fatalf("expected audit log file to exist: %v", err)
	}
	if !strings.Contains(string(b), "config_set") {
		t.Fatalf("audit log missing event: %s", b)
	}
}

func TestSafeHeadersRedacts(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/threads", nil)
	r.Header.Set("Authorization", "Bearer abc")
	r.Header.Set("X-User-Token", "jwt")
	r.Header.Set("X-Role-Name", "frontend")

	got := SafeHeaders(r)
	if strings.Contains(got, "abc") || strings.Contains(got, "jwt") {
		t.Fatalf("credentials leaked: %s", got)
	}
	if !strings.Contains(got, "X-Role-Name=frontend") {
		t.Fatalf("expected role header kept: %s", got)
	}
}
