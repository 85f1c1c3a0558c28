package system

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3e-network/cyberrange/internal/logger"
)

// shutdownGrace bounds how long Stop is given to drain in-flight ticks,
// watchers, and mission/deploy engines before RunUntilSignal gives up and
// reports the timeout as an error.
const shutdownGrace = 30 * time.Second

// RunUntilSignal starts mgr, blocks until SIGINT or SIGTERM, then stops mgr
// within the given shutdown deadline. It is the entry point cmd/rangectl's
// serve subcommand hands the wired lifecycle manager to.
func RunUntilSignal(ctx context.Context, mgr *Manager, log *logger.Logger) error {
	if log == nil {
		log = logger.NewDefault("system")
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	log.Info("control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		log.WithError(err).Error("shutdown completed with errors")
		return err
	}
	log.Info("control plane stopped cleanly")
	return nil
}
