// Package vision wraps the chat-completion vision endpoint that proposes
// per-photo color adjustment multipliers for the color correction step.
package vision
