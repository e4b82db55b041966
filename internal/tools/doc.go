// Package tools provides the child-process primitives shared by the
// wrapper adapters (NAT helper, tunnel binaries).
//
// Ownership boundary:
// - process startup with inherited or piped stdio
//
// - bounded termination (signal, then kill)
package tools
