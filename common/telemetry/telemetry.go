package telemetry

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/lyzr/assembly/common/logger"
	"github.com/lyzr/assembly/common/server"
)

// Telemetry serves the runtime profiling endpoints on a separate port
type Telemetry struct {
	log       *logger.Logger
	pprofPort int
}

// New creates telemetry components. A zero port disables pprof.
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofPort: pprofPort,
	}
}

// Enabled reports whether a pprof port is configured
func (t *Telemetry) Enabled() bool {
	return t.pprofPort > 0
}

// Handler returns the pprof mux. It is kept off the API router.
func (t *Telemetry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start serves pprof in the background until ctx is cancelled
func (t *Telemetry) Start(ctx context.Context) {
	if !t.Enabled() {
		return
	}

	srv := server.New("pprof server", t.pprofPort, t.Handler(), t.log)
	go func() {
		if err := srv.Run(ctx); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()
}
