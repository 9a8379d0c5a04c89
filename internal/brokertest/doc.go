// Package brokertest provides an in-process WebSocket signal broker for
// tests: it stores values, confirms subscriptions, pushes updates, and can
// drop its connections on demand to simulate a channel failure.
//
// It speaks the same JSON envelope protocol as the real broker but defines
// the wire shapes locally, the way an actual broker implementation would.
package brokertest
