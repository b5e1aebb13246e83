// Package server implements the TCP state server: a listening socket, an
// accept loop, and one handler goroutine per accepted connection.
//
// The protocol is strictly one-shot: each connection carries exactly one
// 256-byte request frame and one response, then the server closes the
// socket. Handlers share the store by read-only reference, so no locking is
// needed; each handler owns its socket exclusively.
//
// Every per-request failure is caught at the handler boundary and converted
// into a wire-level error frame - a malformed or malicious request can never
// crash the server or affect other connections. Failures while writing a
// response are logged and the connection is closed without a second attempt.
package server
