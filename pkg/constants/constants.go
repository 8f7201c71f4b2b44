// Package constants defines magic numbers and default values used throughout go-desync
package constants

import "time"

// Connection timeouts
const (
	DefaultConnTimeout  = 10 * time.Second
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDNSTimeout   = 5 * time.Second
)

// Response collection
const (
	DefaultMaxAttempts    = 10
	DefaultReadPause      = 100 * time.Millisecond
	DefaultEmptyPause     = 200 * time.Millisecond
	DefaultReadBufferSize = 32 * 1024

	// NoResponseText is returned as the response body when the server never sent a byte.
	NoResponseText = "No response received from server"
)

// Probe construction
const (
	DefaultProbePath = "/page_404"
	DefaultUserAgent = "HRS-Repeater"

	// ProbeInnerContentLength is the Content-Length advertised by the smuggled
	// request in a CL.TE prefix. It is deliberately larger than what follows.
	ProbeInnerContentLength = 10
)

// Ports
const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
)

// Batch execution
const (
	DefaultBatchWorkers = 5
)

// Response parsing
const (
	MaxHeaderBytes = 64 * 1024
)
