// Package connection owns the RPC channel lifecycle: a four-state connection
// machine, failure reporting from in-flight calls and workers, and the
// reconnect supervisor that restores every registered subscription after the
// channel comes back.
//
// Lock ordering is fixed across the client: the manager's lock is acquired
// before the registry's lock, never the other way around. The registry lock
// is never held across network I/O.
package connection
