// Package tcp is the capture feed input: a reconnecting TCP client and the
// line framer that recovers JSON documents from the feed.
//
// The Manager owns one connection at a time. While it is asked to attempt a
// connection it dials with the tiered reconnect schedule (immediately, then
// 1s for attempts 1-5, 5s for 6-10, 10s after that), resetting the attempt
// count on every successful connect. A peer closing the stream reconnects
// immediately; a socket error counts as a failed attempt. Without a host
// and port the manager disables itself and reports "not configured".
//
// Documents are handed to the Handler synchronously from the read loop, so
// a slow consumer throttles the socket read.
package tcp
