package supervisor

import (
	"context"
	"os"
	"os/signal"
)

// ShutdownOnSignal calls Shutdown on the first of sigs and ignores any
// signal received after it. It returns when ctx is done.
func (s *Supervisor) ShutdownOnSignal(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s.log.Info("signal received", "signal", sig.String())
			s.Shutdown()
		}
	}
}
