// Package upstream implements the Upstream Connector component.
//
// The Upstream Connector:
//   - Maintains the single WebSocket connection to the exchange feed
//   - Issues idempotent JSON-RPC subscribe requests per symbol
//   - Decodes inbound "book.<symbol>.<interval>" notifications into
//     (symbol, payload) events for the Relay Gateway
//   - Reports a feed failure and stays Disconnected; it does not
//     reconnect (subscribed symbols are retained for a future replay)
package upstream
