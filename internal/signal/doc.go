// Package signal defines the data model shared across the client: signal
// paths, the value/actuator-target field distinction, subscription keys,
// and the update callback contract.
package signal
