// Package worker is the host runtime for the cache strategy engine. It drives
// the install and activate hooks in order, tracks the resulting lifecycle
// state, and only starts intercepting requests once activation has claimed
// the clients. Until then every request is treated as uncontrolled and passes
// straight through to the network.
package worker
