// Package server runs the publishing side of the tunnel.
//
// Ownership boundary: the server service owns the punched sessions, the
// frps process, and the DNS records derived from them. It is the only
// writer of those records; everything else observes through Status.
package server
