// Package api assembles the HTTP surface: the /v1 routes, the role gateway
// and the ops endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"assetdesk/pkg/api/handlers"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/telemetry"
	"assetdesk/pkg/utils"
)

// Options configure NewRouter.
type Options struct {
	Security auth.SecConfig
	// Ready reports whether dependencies are usable; nil means always ready.
	Ready func() error
	// Version is reported by /readyz.
	Version string
	// DocsDir holds openapi.yaml. Empty disables /docs/.
	DocsDir string
}

// NewRouter wires a onto a gorilla/mux router behind telemetry, the API key
// gateway and caller identification.
func NewRouter(a *handlers.API, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				utils.JSONWrite(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
				return
			}
		}
		ver := opts.Version
		if ver == "" {
			ver = "dev"
		}
		utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if opts.DocsDir != "" {
		r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
		r.Handle("/openapi.yaml", http.FileServer(http.Dir(opts.DocsDir))).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.IdentifyCaller)
	a.RegisterThreads(v1)
	a.RegisterChat(v1)
	a.RegisterSigning(v1)
	a.RegisterAdmin(v1.PathPrefix("/admin").Subrouter())

	return auth.AuthenticateRequestMiddleware(opts.Security)(r)
}
