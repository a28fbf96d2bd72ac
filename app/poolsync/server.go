package poolsync

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/app/poolsync/controller"
	"github.com/stream-pools/poolsync/app/poolsync/types"
)

// NewServer attaches the HTTP server to app.
func NewServer(app *types.App, addr string) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
