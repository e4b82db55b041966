// Package frp manages the wrapped tunnel binaries.
//
// Ownership boundary:
// - frps/frpc TOML rewrites that only touch the keys this tool owns
//
// - start/restart/stop supervision of the binaries
//
// The tunnel protocol itself stays inside the binaries; frp never speaks it.
package frp
