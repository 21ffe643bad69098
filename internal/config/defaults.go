// Package config - defaults.go centralizes default values.
package config

import "time"

// DefaultPort is the local listen port.
const DefaultPort = 8790

// DefaultHost binds to loopback only; this proxy observes local traffic.
const DefaultHost = "127.0.0.1"

// DefaultBufferSize is the relay read-buffer size.
const DefaultBufferSize = 4096

// DefaultMaxEntries bounds the in-memory entry store.
const DefaultMaxEntries = 500

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 5 * time.Minute

// DefaultServerWriteTimeout must be long; SSE relays run for minutes.
const DefaultServerWriteTimeout = 30 * time.Minute

// DefaultDialTimeout is the upstream TCP dial timeout. No overall upstream
// timeout is imposed; streams may run indefinitely.
const DefaultDialTimeout = 10 * time.Second

// DefaultTLSHandshakeTimeout for upstream connections.
const DefaultTLSHandshakeTimeout = 10 * time.Second

// DefaultIdleConnTimeout for the upstream connection pool.
const DefaultIdleConnTimeout = 90 * time.Second

// DefaultRateQPS and DefaultRateBurst apply when rate limiting is enabled
// without explicit values.
const (
	DefaultRateQPS   = 50.0
	DefaultRateBurst = 100
)

// DefaultDBFile is the sqlite aggregate store, relative to the data dir.
const DefaultDBFile = "usage.db"
