// Package recorder persists subscribed signal updates to Postgres. Updates
// arrive through a bounded buffer, accumulate into batches, and flush on size
// or on a timer. A full buffer drops the update rather than stalling the
// subscription worker that delivered it.
package recorder
