package shared

import "errors"

// Constructor and setup guards.
var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrSessionAlreadyRunning = errors.New("session already running")
)

// Runtime conditions. Transient ones are handled locally by the client and
// surface to callers as boolean results; these sentinels are what the wrapped
// errors unwrap to.
var (
	ErrConnectionInactive = errors.New("connection inactive")
	ErrHandshakeTimeout   = errors.New("handshake timed out")
	ErrRateLimited        = errors.New("rate limited")
	ErrAudioValidation    = errors.New("invalid audio payload")
	ErrTransportClosed    = errors.New("transport closed")
	ErrMemoryPressure     = errors.New("memory pressure too high")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Bridge-side conditions.
var (
	ErrBridgeClosed   = errors.New("bridge closed")
	ErrUnknownSession = errors.New("unknown session")
)
