package jobs

import "time"

// Config holds the Job Server's tunables, defaulting to the values listed
// in the external-interfaces configuration table.
type Config struct {
	MaxConcurrent int
	QueueMaxSize  int
	JobTimeout    time.Duration
	RetryDelay    time.Duration
	MaxRetries    int

	// ClassifierDefaultRetryable controls the error classifier's fallback
	// for unrecognized failures (see the classifier-fallback decision).
	ClassifierDefaultRetryable bool

	// ShutdownGrace is how long Drain waits for running jobs to reach a
	// terminal state before giving up.
	ShutdownGrace time.Duration

	// CancelGrace is the cooperative-cancellation grace period before a
	// timed-out handler's job is reported failed (the slot is still held
	// until the handler goroutine actually returns).
	CancelGrace time.Duration
}

// DefaultConfig returns the configuration table's defaults from §6.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:              3,
		QueueMaxSize:               1000,
		JobTimeout:                 600000 * time.Millisecond,
		RetryDelay:                 5000 * time.Millisecond,
		MaxRetries:                 2,
		ClassifierDefaultRetryable: true,
		ShutdownGrace:              30 * time.Second,
		CancelGrace:                1 * time.Second,
	}
}
