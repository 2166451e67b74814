// Package dispatch routes change feed events to step executors and commits
// their results under conditional status updates, with bounded retries and
// exponential backoff for transient failures.
package dispatch
