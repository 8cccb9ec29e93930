// Package ws implements the dashboard's WebSocket streams.
//
// Hub manages a set of connected clients and pushes the messages of one Feed
// to all of them. Feed.Initial is sent to each client when it connects;
// Feed.Next is polled every interval and a nil message skips the tick.
//
// Three feeds are provided:
//
//	/ws           LiveFeed      new detection rows (columnar) plus the summary
//	/ws/data      TableFeed     the whole log, newest first, when it changed
//	/ws/activity  ActivityFeed  the 20 newest activity events
//
// A client whose send buffer is full is disconnected; broadcasts never block.
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
