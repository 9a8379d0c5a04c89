// Package vssclient is a resilient client for a vehicle-signal broker. It
// speaks a JSON envelope protocol over WebSocket, tracks the connection
// through an explicit state machine, and recovers from channel failures with
// a background supervisor that re-establishes the connection and replays
// every registered subscription.
//
// A minimal session:
//
//	cfg := &vssclient.Config{ServerURI: "ws://localhost:8090"}
//	client, err := vssclient.New(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	speed, err := vssclient.GetCurrentValueAs[float64](ctx, client, "Vehicle.Speed")
//
// Subscriptions survive reconnects: callbacks registered before a channel
// failure resume receiving updates once the supervisor restores the
// connection.
package vssclient
