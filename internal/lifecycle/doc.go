// Package lifecycle manages versioned cache generations. Install precaches the
// configured manifest into the generation named by the current version label;
// Activate garbage-collects every other generation. Both phases are
// idempotent: repeating them with the same label only overwrites entries.
package lifecycle
