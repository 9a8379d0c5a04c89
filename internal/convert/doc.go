// Package convert parses canonical string signal values into Go types.
//
// Parsing is strict: the whole string must be consumed ("42x" is rejected,
// not truncated) and integer values are range-checked against the target
// width. A failed conversion is a normal, reportable outcome for the typed
// getters, never a connection-level failure.
package convert
