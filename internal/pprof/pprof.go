package pprof

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"time"

	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/log"
)

// StartPprofServer starts a pprof server on the given address.
func StartPprofServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("address cannot be empty")
	}
	logger := log.NewLogger(ctx)

	server := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting pprof server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("pprof server could not listen", zap.String("addr", addr), zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down pprof server", zap.String("addr", addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
