// Command deskchat is a terminal client for the assetdesk chat API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"assetdesk/pkg/client"
)

type appConfig struct {
	url       string
	apiKey    string
	userID    string
	signature string
	token     string
	threadID  string
	poll      time.Duration
	altScreen bool
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func parseFlags() appConfig {
	var cfg appConfig
	flag.StringVar(&cfg.url, "url", envOr("ASSETDESK_URL", "http://127.0.0.1:8080"), "Server base URL")
	flag.StringVar(&cfg.apiKey, "key", envOr("ASSETDESK_API_KEY", ""), "API key")
	flag.StringVar(&cfg.userID, "user", envOr("ASSETDESK_USER", ""), "End-user id")
	flag.StringVar(&cfg.signature, "signature", envOr("ASSETDESK_USER_SIGNATURE", ""), "HMAC signature of the user id (frontend keys)")
	flag.StringVar(&cfg.token, "token", envOr("ASSETDESK_USER_TOKEN", ""), "Signed identity token, used instead of -user")
	flag.StringVar(&cfg.threadID, "thread", "", "Thread to open on start")
	flag.DurationVar(&cfg.poll, "poll", 400*time.Millisecond, "Delta poll interval while an answer streams")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "Use the terminal alternate screen")
	flag.Parse()
	return cfg
}

func main() {
	_ = godotenv.Load()
	cfg := parseFlags()
	if cfg.userID == "" && cfg.token == "" {
		fmt.Fprintln(os.Stderr, "deskchat: -user or -token is required")
		os.Exit(2)
	}
	c := client.New(cfg.url, cfg.apiKey, client.WithIdentity(client.Identity{
		UserID:    cfg.userID,
		Signature: cfg.signature,
		Token:     cfg.token,
	}))

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(cfg, c), opts...)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "deskchat fatal error: %v\n", err)
		os.Exit(1)
	}
}
