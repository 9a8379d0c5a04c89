// Package subscription tracks active subscriptions and runs one worker
// goroutine per subscription key.
//
// The registry is the single source of truth for what should be running: a
// record persists across reconnects while its worker handle is replaced. All
// recovery decisions live elsewhere (the reconnect supervisor); a worker that
// sees its channel die reports the failure once and exits.
package subscription
