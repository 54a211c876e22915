package app

import (
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"assetdesk/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("no effective configuration")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, ASSETDESK_DB_PATH env, or server.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if r := eff.Config.Retention; r.Enabled && r.Cron != "" && !gronx.IsValid(r.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", r.Cron)
	}
	if eff.Config.Ingest.Processor.Workers <= 0 {
		return fmt.Errorf("ingest.processor.workers must be positive")
	}
	if eff.Config.Ingest.Queue.Capacity <= 0 {
		return fmt.Errorf("ingest.queue.capacity must be positive")
	}
	if eff.Config.Models.MaxSteps <= 0 {
		return fmt.Errorf("models.max_steps must be positive")
	}
	if r, m := eff.Config.Retention, eff.Config.Models; r.Enabled && r.StaleAfter.Duration() > 0 {
		longest := m.Timeout.Duration() * time.Duration(m.MaxSteps)
		if r.StaleAfter.Duration() <= longest {
			return fmt.Errorf("retention.stale_after (%s) must exceed models.timeout * models.max_steps (%s)", r.StaleAfter.Duration(), longest)
		}
	}
	return nil
}
