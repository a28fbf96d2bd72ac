package controller

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stream-pools/poolsync/app/poolsync/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", c.HandleHealth).Methods("GET")
	r.HandleFunc("/readyz", c.HandleReady).Methods("GET")
	if c.App.Metrics != nil {
		r.Handle("/metrics", c.App.Metrics.Handler()).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/pools", c.HandlePools).Methods("GET")
	v1.HandleFunc("/pools/refresh", c.HandleRefreshPools).Methods("POST")
	v1.HandleFunc("/pools/{id}/streams", c.HandlePoolStreams).Methods("GET")
	v1.HandleFunc("/streams", c.HandleStreams).Methods("GET")
	v1.HandleFunc("/streams/refresh", c.HandleRefreshStreams).Methods("POST")
	v1.HandleFunc("/actions", c.HandleAction).Methods("POST")
	v1.HandleFunc("/session", c.HandleGetSession).Methods("GET")
	v1.HandleFunc("/session", c.HandleConnect).Methods("POST")
	v1.HandleFunc("/session", c.HandleDisconnect).Methods("DELETE")
	v1.HandleFunc("/ws", c.HandleWebSocket).Methods("GET")

	return r, nil
}

// WithCORS echoes the request origin so browser frontends can call the API.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
