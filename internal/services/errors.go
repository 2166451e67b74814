package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel markers used to classify failures from external collaborators and
// pipeline steps. Dispatch consults these to decide retry behavior and to name
// the failure kind in a task's last_error.
var (
	// ErrTransient marks failures worth re-attempting (timeouts, rate limits,
	// upstream 5xx). The retry policy owns how many attempts are made.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that will not succeed on retry (deterministic
	// rejections, malformed input). Still bounded by the retry budget, but the
	// resulting last_error names the condition distinctly.
	ErrPermanent = errors.New("permanent failure")
	// ErrValidation marks data-integrity failures: a task has reached a status
	// without the inputs the next step requires. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or unusable collaborator configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrContentRejected marks publish uploads blocked by the target's
	// firewall or content policy. Permanent until externally fixed.
	ErrContentRejected = errors.New("content rejected")
)

// Wrap builds an error message that includes step context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, step, operation, message string, err error) error {
	detail := buildDetail(step, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether a step failure should consume a retry attempt
// with a delay, as opposed to failing the task immediately. Validation
// failures are fatal: retrying cannot produce missing input.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrValidation)
}

// Kind returns the short classification name recorded in last_error and
// structured logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContentRejected):
		return "content_rejected"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		return "transient"
	}
}

func buildDetail(step, operation, message string) string {
	parts := make([]string, 0, 3)
	if step = strings.TrimSpace(step); step != "" {
		parts = append(parts, step)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
