// Package ratelimit implements the two throttle gates the client is built
// on: a manual (global) gate that is engaged explicitly when the server
// signals an account-wide limit, and a windowed burst gate that admits a
// fixed number of callers per time window.
//
// Both gates only ever delay; they never fail a caller except on context
// cancellation or gate shutdown. Queued callers are released strictly in
// arrival order.
package ratelimit
