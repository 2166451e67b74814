// Package step defines the contract between the dispatcher and the pipeline
// steps that move tasks through color correction and publishing.
package step
