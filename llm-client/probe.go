package llmclient

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultProbeTimeout = 5 * time.Second

// ProbeResult reports endpoint reachability.
type ProbeResult struct {
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Err        error         `json:"-"`
}

// Probe checks whether baseURL answers at all. Any HTTP status counts as
// reachable; only connection and timeout failures count as unreachable.
func Probe(ctx context.Context, baseURL string, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return ProbeResult{Err: eris.Wrapf(err, "probe %s", baseURL)}
	}

	client := newHTTPClient(Timeouts{Connect: timeout, Response: timeout})
	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{Latency: time.Since(start), Err: err}
	}
	resp.Body.Close()
	return ProbeResult{Reachable: true, StatusCode: resp.StatusCode, Latency: time.Since(start)}
}
