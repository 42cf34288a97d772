package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// Limits enforced by the scheduling API.
const (
	// MaxJobIDLength is the maximum length for job ids.
	MaxJobIDLength = 255

	// MaxRetries is the hard limit for retry attempts.
	MaxRetries = 100

	// MaxWorkers is the hard limit for executor concurrency.
	MaxWorkers = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// MaxCheckpointSize is the maximum size in bytes for a checkpoint blob (1MB).
	MaxCheckpointSize = 1 << 20
)

// validJobID matches alphanumeric, hyphens, underscores, and dots.
var validJobID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobID validates a job id.
func ValidateJobID(id string) error {
	if id == "" {
		return core.ErrInvalidJobID
	}
	if len(id) > MaxJobIDLength {
		return core.ErrJobIDTooLong
	}
	if !validJobID.MatchString(id) {
		return core.ErrInvalidJobID
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Strip control characters that could corrupt logs or terminal output.
	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	if len(clean) > MaxErrorMessageLength {
		cut := MaxErrorMessageLength
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut] + "... (truncated)"
	}
	return clean
}

// ClampRetries ensures a retry count is within [0, MaxRetries].
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampWorkers ensures worker concurrency is within [1, MaxWorkers].
func ClampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
