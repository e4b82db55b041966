// Package cloudflare is a thin client for the provider's v4 DNS API.
//
// Ownership boundary:
// - zone lookup (cached after first success)
//
// - A/TXT record upserts with the short TTL the discovery channel needs
//
// It intentionally covers only the handful of calls the server role makes.
package cloudflare
