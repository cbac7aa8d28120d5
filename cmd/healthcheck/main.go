// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the health endpoint answers 200 with a usable
// status, and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static
// binary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"ratelimiter/internal/models"
)

func main() {
	url := flag.String("url", "http://localhost:8080/health", "health endpoint to probe")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	strict := flag.Bool("strict", false, "treat a degraded service as unhealthy")
	flag.Parse()

	if err := probe(&http.Client{Timeout: *timeout}, *url, *strict); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		os.Exit(1)
	}
}

// probe fails on transport errors, non-200 answers and an unhealthy status.
// A degraded service (snapshot store unreachable) still admits requests, so
// it passes unless strict is set.
func probe(client *http.Client, url string, strict bool) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var health models.HealthCheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	switch health.Status {
	case models.StatusHealthy:
		return nil
	case models.StatusDegraded:
		if !strict {
			return nil
		}
	}
	return fmt.Errorf("service is %s", health.Status)
}
