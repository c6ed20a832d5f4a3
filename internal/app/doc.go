// Package app assembles the fifosched daemon from its parts and owns their
// start and stop order.
package app
