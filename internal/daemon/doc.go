// Package daemon owns the long-running process lifecycle: single-instance
// locking and startup/shutdown of the feed listener and dispatcher.
package daemon
