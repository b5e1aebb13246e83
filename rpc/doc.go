// Package rpc contains the networking layer of the state server. It is
// organized into three subpackages:
//
//   - common: the wire protocol (request frame, response headers, transfer
//     types, scalar payload codecs), shared configuration structures, and
//     logging setup.
//
//   - server: the TCP server that resolves request paths against a state
//     tree and streams responses.
//
//   - client: the synchronous client, one connection per request.
package rpc
