// Command healthcheck exits 0 when the local mt2fa API reports itself and
// its database healthy. It is meant for container HEALTHCHECK directives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

func main() {
	os.Exit(check(http.DefaultTransport, os.Getenv("MT2FA_LISTEN_ADDR"), os.Stderr))
}

type healthBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func check(transport http.RoundTripper, listenAddr string, errOut io.Writer) int {
	client := &http.Client{Timeout: 3 * time.Second, Transport: transport}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/health", normalizeAddr(listenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(errOut, "healthcheck: %v\n", err)
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(errOut, "healthcheck: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var body healthBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		fmt.Fprintf(errOut, "healthcheck: decode response: %v\n", err)
		return 1
	}

	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		fmt.Fprintf(errOut, "healthcheck: status %d, service %q, database %q\n", resp.StatusCode, body.Status, body.Database)
		return 1
	}

	return 0
}

// normalizeAddr ensures the healthcheck connects to loopback rather than the
// bind-all address. The healthcheck runs inside the same container as the
// server, so loopback is always reachable.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
