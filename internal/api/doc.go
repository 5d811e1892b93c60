// Package api implements the Deribit REST client.
//
// Endpoints follow the venue's JSON-RPC-over-HTTP convention: every
// response wraps its payload in a "result" field, and failures carry a
// coded "error" object. Transient failures (HTTP 5xx and 429) retry with
// jittered exponential backoff.
package api
