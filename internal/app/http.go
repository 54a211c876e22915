package app

import (
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/api"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/store"
)

// handler builds the full HTTP handler from the effective config.
func (a *App) handler() http.Handler {
	docs := "./docs"
	if _, err := os.Stat(docs); err != nil {
		docs = ""
	}
	return api.NewRouter(a.api, api.Options{
		Security: auth.NewSecConfig(a.eff.Config),
		Ready:    ready,
		Version:  a.version,
		DocsDir:  docs,
	})
}

func ready() error {
	if !store.Ready() {
		return errors.New("store not open")
	}
	return nil
}

// newServer builds the http.Server. SSE responses stay open, so only the
// header read is bounded.
func (a *App) newServer() *http.Server {
	return &http.Server{
		Addr:              a.eff.Addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP blocks serving until the server is shut down.
func (a *App) serveHTTP() error {
	cert := a.eff.Config.Server.TLS.CertFile
	key := a.eff.Config.Server.TLS.KeyFile
	logger.Info("http_listening", "addr", a.eff.Addr, "tls", cert != "")
	if cert != "" && key != "" {
		return a.srv.ListenAndServeTLS(cert, key)
	}
	return a.srv.ListenAndServe()
}
