// Package gateway implements the Relay Gateway component.
//
// The Relay Gateway:
//   - Accepts downstream WebSocket connections and wraps each in a session
//   - Applies subscribe/unsubscribe control frames to the symbol registry
//   - Triggers idempotent upstream feed subscriptions on first interest
//   - Fans each feed update out to the sessions subscribed to its symbol
//   - Purges closed sessions from the session table and the registry
package gateway
