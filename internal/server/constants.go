// Package server exposes the capture pipeline over HTTP and WebSocket.
package server

import "time"

const (
	// connectedHint greets each WebSocket client with usage directions.
	connectedHint = `WebSocket connected. Send {"action": "start"} to begin listening.`

	// Per-connection command rate limiting over a sliding window.
	RateLimitMessages = 10
	RateLimitWindow   = time.Second
)
