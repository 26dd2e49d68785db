package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/precisionland/logging"
)

// SlowLogger warns with msg after 2s, then 3s later, then every 5s, until ctx is done or the
// returned stop function is called. Elapsed time is appended to keysAndValues.
func SlowLogger(
	ctx context.Context, clk clock.Clock, msg string, logger logging.Logger, keysAndValues ...interface{},
) func() {
	ctx, cancel := context.WithCancel(ctx)
	start := clk.Now()
	ticker := clk.Ticker(2 * time.Second)
	go func() {
		defer ticker.Stop()
		next := 3 * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				kv := append(append([]interface{}{}, keysAndValues...), "elapsed", now.Sub(start).Round(time.Second).String())
				logger.Warnw(msg, kv...)
				ticker.Reset(next)
				next = 5 * time.Second
			}
		}
	}()
	return cancel
}
