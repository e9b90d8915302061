package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errNotTerminal = errors.New("function not terminal yet")

// WaitFor blocks until the named node reaches a terminal status and returns
// it. It polls the monitor at a constant interval; the context bounds the
// wait.
func WaitFor(ctx context.Context, r *Runner, name string, interval time.Duration) (FunctionStatus, error) {
	m, ok := r.Monitor(name)
	if !ok {
		return "", fmt.Errorf("unknown function %q", name)
	}

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	var status FunctionStatus
	err := backoff.Retry(func() error {
		status = m.Status()
		if !status.Terminal() {
			return errNotTerminal
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err != nil {
		return "", fmt.Errorf("waiting for %q: %w", name, err)
	}

	return status, nil
}
