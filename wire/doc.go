// Package wire defines the request/response contract between tag sessions
// on the client side and the tag session manager in the service.
//
// Messages are CBOR (RFC 8949) maps with integer keys and travel as single
// binary WebSocket frames wrapped in an Envelope.
//
// # Message Types
//
//   - Request: client to service, one per tag operation
//   - Response: service to client, correlated by MessageID
//   - Event: service to client, tag discovered or lost (MessageID 0)
//
// # Status and result codes
//
// Every response starts with a Status. A non-zero status means the call
// itself failed (unknown operation, malformed request, service fault) and is
// surfaced to callers as a remote exception. A completed call carries the
// operation outcome in Code (an nfc.ErrorCode, 0 = success) and, for
// Transceive, the command outcome in Result.
//
// Operation codes, status words and result codes are fixed values; changing
// them breaks existing clients.
package wire
