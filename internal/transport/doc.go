// Package transport implements the RPC channel to the signal broker.
//
// The rest of the client depends only on the Channel and Stream interfaces;
// the concrete WebSocket implementation (JSON envelopes, request-ID
// correlation, subscription fan-out) stays behind them. Broker rejections are
// surfaced as *RemoteError and never indicate a channel failure; everything
// else returned from an in-flight call or delivered on Errors() is a
// channel-level failure.
package transport
