// Package banner prints the startup summary operators see in the console.
package banner

import (
	"fmt"
	"io"
	"strings"

	"assetdesk/pkg/config"
)

const banner = `
   __ _  ___ ___  ___| |_  __| | ___  ___| | __
  / _` + "`" + ` |/ __/ __|/ _ \ __|/ _` + "`" + ` |/ _ \/ __| |/ /
 | (_| |\__ \__ \  __/ |_| (_| |  __/\__ \   <
  \__,_||___/___/\___|\__|\__,_|\___||___/_|\_\
`

// Print writes the banner, the effective config summary and a production
// checklist to w.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", eff.Addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)
	fmt.Fprintf(w, "Models:   %s (seed: %s)\n", cfg.Models.BaseURL, strings.Join(cfg.Models.SeedModels, ", "))
	fmt.Fprintf(w, "Workers:  %d, queue capacity %d\n", cfg.Ingest.Processor.Workers, cfg.Ingest.Queue.Capacity)

	fmt.Fprintln(w, "\n== Examples ===================================================")
	fmt.Fprintln(w, `curl -X POST 'http://<host>:<port>/v1/chat/send' -H 'X-API-Key: <backend>' -H 'X-User-ID: u1' -d '{"prompt":"what laptop do I have?","modelId":"<model>"}'`)
	fmt.Fprintln(w, `curl 'http://<host>:<port>/v1/threads' -H 'X-API-Key: <backend>' -H 'X-User-ID: u1'`)

	fmt.Fprintln(w, "\n== Production? =================================================")
	keys := func(label string, n int, why string) {
		if n > 0 {
			fmt.Fprintf(w, "- %s API keys: OK (%d)\n", label, n)
		} else {
			fmt.Fprintf(w, "- %s API keys: MISSING (%s)\n", label, why)
		}
	}
	keys("Backend", len(cfg.Security.APIKeys.Backend), "required for backend services")
	keys("Frontend", len(cfg.Security.APIKeys.Frontend), "required for client access")
	keys("Admin", len(cfg.Security.APIKeys.Admin), "required for admin tooling")
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Fprintln(w, "- TLS: configured")
	} else {
		fmt.Fprintln(w, "- TLS: unconfigured")
	}
	if cfg.Models.APIKey != "" {
		fmt.Fprintln(w, "- Model API key: set")
	} else {
		fmt.Fprintln(w, "- Model API key: MISSING (generations will fail)")
	}
	if cfg.Retention.Enabled {
		fmt.Fprintf(w, "- Retention: enabled (cron=%s)\n", cfg.Retention.Cron)
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
	fmt.Fprintln(w, "\n== Logs: =================================================")
}
