// Command catalogiq is the operator CLI for the product photo pipeline:
// creating tasks, inspecting their state and audit log, and resetting
// failures.
package main
