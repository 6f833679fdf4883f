// Package realtime implements a websocket client for OpenAI's realtime API
// tailored to telephony workloads: session handshake and live reconfiguration,
// automatic reconnection with jittered exponential backoff, heartbeat-based
// liveness, sliding-window rate limiting and a bounded audio queue between the
// receive loop and consumers.
//
// The bridge subpackage pairs a Client with a telephony media stream and
// translates between the two protocols in both directions.
package realtime
