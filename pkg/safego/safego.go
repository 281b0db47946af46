package safego

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// Execute runs fn in a new goroutine, recovering and logging any panic with its stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go run(ctx, logger, goroutineName, fn)
}

// ExecuteTracked is Execute with the goroutine registered on wg, so callers can
// wait for in-flight background work (e.g. event publishing) before exiting.
func ExecuteTracked(ctx context.Context, wg *sync.WaitGroup, logger domain.Logger, goroutineName string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(ctx, logger, goroutineName, fn)
	}()
}

func run(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			// The original context may already be cancelled; logging must still work.
			logCtx := ctx
			if ctx.Err() != nil {
				logCtx = context.WithoutCancel(ctx)
			}
			logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
				"panic_info", fmt.Sprintf("%v", r),
				"stacktrace", string(debug.Stack()),
			)
		}
	}()
	fn()
}
