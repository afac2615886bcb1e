// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const DefaultProbeTimeout = 5 * time.Second

// Prober checks that an instance's application answers HTTP. Any response
// below 500 counts as up.
type Prober struct {
	client *retryablehttp.Client
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &Prober{client: client}
}

func (p *Prober) Probe(ctx context.Context, address string, port int) error {
	url := InstanceURL(address, port)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// InstanceURL is the address visitors use to reach an instance.
func InstanceURL(address string, port int) string {
	if address == "" {
		return ""
	}
	if port <= 0 || port == 80 {
		return "http://" + address
	}
	return "http://" + net.JoinHostPort(address, strconv.Itoa(port))
}
