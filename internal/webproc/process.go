// Package webproc manages the processes started and stopped together with the control
// plane: the built-in status server or an external web server command.
package webproc

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Process is a sub-process whose lifetime follows the control plane.
type Process interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Check returns nil while the process serves requests.
	Check(ctx context.Context) error
}

var probeClient = &http.Client{Timeout: 2 * time.Second} // same host, low latency expected

// probe issues a GET against url and treats any non 5xx status as alive.
func probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probing %s: status %d", url, resp.StatusCode)
	}
	return nil
}
