// Package client runs the consuming side of the tunnel.
//
// Ownership boundary: the client service owns the frpc process and its
// config file. It treats the published TXT record as the single source
// of truth and converges frpc onto whatever it says.
package client
