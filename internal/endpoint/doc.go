// Package endpoint owns the punched-port model shared by both roles.
//
// Ownership boundary:
// - port-map file parsing and validation
//
// - TXT record encode/decode
//
// - per-client views of a published record
//
// endpoint does not talk to the network; resolution and publishing live in
// dnspoll and cloudflare respectively.
package endpoint
