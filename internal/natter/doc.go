// Package natter wraps the external NAT traversal helper.
//
// Ownership boundary:
// - helper process startup and teardown
//
// - mapping-line parsing from helper output
//
// - liveness of the helper set behind one published port map
//
// The helper runs with -q, so it exits on its own when the mapped address
// changes; a dead helper is the signal to re-punch.
package natter
