package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is where the collectors are served.
const DefaultPath = "/metrics"

// Handler returns the HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Serve exposes the collectors on address until ctx is done.
// It returns once the listener is bound; serving continues in the background.
func Serve(ctx context.Context, address, path string, logger *slog.Logger) (net.Addr, error) {
	if path == "" {
		path = DefaultPath
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	if logger != nil {
		logger.Info("serving metrics", "address", ln.Addr().String(), "path", path)
	}
	return ln.Addr(), nil
}
