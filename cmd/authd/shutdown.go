package main

import (
	"context"
	"errors"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

// drainThenClose stops the HTTP server and only then runs closers in order,
// so in-flight requests never see a closed database. Closers run even when
// draining fails.
func drainThenClose(cancel context.CancelFunc, drain func(context.Context) error, closers ...func() error) gfshutdown.Operation {
	return func(ctx context.Context) error {
		cancel()
		errs := []error{drain(ctx)}
		for _, closer := range closers {
			errs = append(errs, closer())
		}
		return errors.Join(errs...)
	}
}
