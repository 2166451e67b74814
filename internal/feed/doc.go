// Package feed tails the task change feed and turns status transitions into
// dispatchable work items, persisting its position so restarts resume where
// processing left off.
package feed
