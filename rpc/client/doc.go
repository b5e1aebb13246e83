// Package client implements the synchronous state client. Each call opens
// a fresh TCP connection, sends one 256-byte request frame, reads one
// response, and closes the socket on every exit path - the protocol has no
// keep-alive or pipelining.
//
// All payload reads go through an exact-count read loop; a single receive
// is never assumed to return the full payload, and a peer that closes
// mid-read surfaces as ErrConnectionClosed. A client instance is safe for
// use from multiple goroutines because calls share no socket.
package client
