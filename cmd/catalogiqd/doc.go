// Command catalogiqd runs the background pipeline daemon: it tails the task
// change feed and dispatches color correction and publish steps.
package main
