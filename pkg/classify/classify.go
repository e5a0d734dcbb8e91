// Package classify decides whether a job failure is retryable and supplies
// a backoff hint, given an error code, an HTTP status, and the error
// message. It never performs I/O and never retains state across calls.
package classify

import (
	"strconv"
	"strings"
)

// Category is the coarse classification of a failure.
type Category string

const (
	CategoryRetryable    Category = "retryable"
	CategoryNonRetryable Category = "non-retryable"
)

// Info is the structured outcome of classifying a failure.
type Info struct {
	Code             string   `json:"code,omitempty"`
	HTTPStatus       int      `json:"httpStatus,omitempty"`
	Category         Category `json:"category"`
	Reason           string   `json:"reason"`
	SuggestedDelayMs int      `json:"suggestedDelayMs"`
	Retryable        bool     `json:"retryable"`
}

// Meta carries the optional structured hints a caller may already know
// about a failure (an error code, an HTTP status). Message is always
// consulted as the final fallback.
type Meta struct {
	Code       string
	HTTPStatus int
	Message    string
}

const defaultDelayMs = 5000

var nonRetryableCodes = map[string]bool{
	"file-not-found":    true,
	"not-a-directory":   true,
	"is-a-directory":    true,
	"permission-denied": true,
	"not-permitted":     true,
	"invalid-argument":  true,
	"exists":            true,
	"dns-not-found":     true,
	"connection-refused": true,
	"module-not-found":  true,
}

var retryableCodeDelaysMs = map[string]int{
	"timed-out":          5000,
	"connection-reset":   3000,
	"host-unreachable":   defaultDelayMs,
	"network-unreachable": defaultDelayMs,
	"broken-pipe":        defaultDelayMs,
	"try-again":          defaultDelayMs,
	"resource-busy":      2000,
}

var messagePatterns = []string{"timeout", "rate limit", "temporarily unavailable"}

// Classifier evaluates failures against a configurable default for the
// unrecognized case (see the classifier-fallback Open Question in DESIGN.md).
type Classifier struct {
	// DefaultRetryable controls what an unrecognized failure classifies as.
	// The source system defaults to true; kept as the default here but made
	// configurable per the Open Question.
	DefaultRetryable bool
}

// New returns a Classifier with the given fallback default.
func New(defaultRetryable bool) *Classifier {
	return &Classifier{DefaultRetryable: defaultRetryable}
}

// Classify is a pure function: the same Meta always yields the same Info.
func (c *Classifier) Classify(m Meta) Info {
	code := strings.ToLower(strings.TrimSpace(m.Code))

	if code != "" && nonRetryableCodes[code] {
		return Info{
			Code:       code,
			HTTPStatus: m.HTTPStatus,
			Category:   CategoryNonRetryable,
			Reason:     "well-known non-retryable code: " + code,
			Retryable:  false,
		}
	}

	if code != "" {
		if delay, ok := retryableCodeDelaysMs[code]; ok {
			return Info{
				Code:             code,
				HTTPStatus:       m.HTTPStatus,
				Category:         CategoryRetryable,
				Reason:           "well-known retryable code: " + code,
				SuggestedDelayMs: delay,
				Retryable:        true,
			}
		}
	}

	if m.HTTPStatus != 0 {
		switch {
		case m.HTTPStatus == 429:
			return Info{
				Code:             code,
				HTTPStatus:       m.HTTPStatus,
				Category:         CategoryRetryable,
				Reason:           "HTTP 429 too many requests",
				SuggestedDelayMs: 60000,
				Retryable:        true,
			}
		case m.HTTPStatus >= 500 && m.HTTPStatus < 600:
			return Info{
				Code:             code,
				HTTPStatus:       m.HTTPStatus,
				Category:         CategoryRetryable,
				Reason:           "HTTP " + strconv.Itoa(m.HTTPStatus) + " server error",
				SuggestedDelayMs: 10000,
				Retryable:        true,
			}
		case m.HTTPStatus >= 400 && m.HTTPStatus < 500:
			return Info{
				Code:       code,
				HTTPStatus: m.HTTPStatus,
				Category:   CategoryNonRetryable,
				Reason:     "HTTP " + strconv.Itoa(m.HTTPStatus) + " client error",
				Retryable:  false,
			}
		}
	}

	lowerMsg := strings.ToLower(m.Message)
	for _, pattern := range messagePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return Info{
				Code:             code,
				HTTPStatus:       m.HTTPStatus,
				Category:         CategoryRetryable,
				Reason:           "message pattern match: " + pattern,
				SuggestedDelayMs: defaultDelayMs,
				Retryable:        true,
			}
		}
	}

	// Unrecognized failure: fall back to the configured default rather
	// than silently discarding a transient error of an unknown shape.
	if c.DefaultRetryable {
		return Info{
			Code:             code,
			HTTPStatus:       m.HTTPStatus,
			Category:         CategoryRetryable,
			Reason:           "unrecognized failure, default-retryable fallback",
			SuggestedDelayMs: defaultDelayMs,
			Retryable:        true,
		}
	}
	return Info{
		Code:       code,
		HTTPStatus: m.HTTPStatus,
		Category:   CategoryNonRetryable,
		Reason:     "unrecognized failure, default-non-retryable fallback",
		Retryable:  false,
	}
}
