// Package stream maintains the exchange streaming connection.
//
// A Machine owns one connection at a time. It authenticates, replays the
// desired subscriptions from a subscription.Manager, feeds market changes
// into an orderbook.Engine and publishes state, order and failure events
// on an ordered queue. A lost connection is re-established with
// exponential backoff; books are discarded when the replayed subscriptions
// are sent, so readers keep the last known books until fresh images
// arrive.
//
// Frames are CRLF-delimited JSON over TLS (tls:// endpoints). ws:// and
// wss:// endpoints carry the same JSON as websocket text messages.
package stream
