// Package models defines the Job Server's persisted entities: Job,
// RetryInfo, and Event.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"alephauto/pkg/classify"
)

// Status is the job state machine's finite set of states.
type Status string

const (
	StatusCreated   Status = "created"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RawJSON is an opaque JSONB payload, never interpreted by the core.
type RawJSON json.RawMessage

func (r *RawJSON) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	*r = append((*r)[:0], bytes...)
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return []byte(r), nil
}

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// Options carries per-job overrides of the Job Server's defaults.
type Options struct {
	MaxRetries   int `json:"maxRetries"`
	RetryDelayMs int `json:"retryDelayMs"`
	Priority     int `json:"priority"`
	TimeoutMs    int `json:"timeoutMs"`
}

func (o *Options) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, o)
}

func (o Options) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// JobError is the structured failure record populated by the classifier.
type JobError struct {
	Message          string            `json:"message"`
	Code             string            `json:"code,omitempty"`
	HTTPStatus       int               `json:"httpStatus,omitempty"`
	Category         classify.Category `json:"category"`
	Retryable        bool              `json:"retryable"`
	SuggestedDelayMs int               `json:"suggestedDelayMs,omitempty"`
	Stack            string            `json:"stack,omitempty"`
}

func (e *JobError) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, e)
}

func (e JobError) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// retrySuffixRe strips every "-retryN" suffix to recover the original id
// that anchors retry bookkeeping, per §3.
var retrySuffixRe = regexp.MustCompile(`-retry\d+`)

// OriginalID derives the stable original id from a possibly-suffixed
// current id.
func OriginalID(currentID string) string {
	return retrySuffixRe.ReplaceAllString(currentID, "")
}

// Job is the central entity: identity, type, status, opaque payload,
// mutually exclusive result/error, and timestamps.
type Job struct {
	ID         string  `json:"id" gorm:"primaryKey"`
	OriginalID string  `json:"originalId" gorm:"index;not null"`
	Type       string  `json:"type" gorm:"index;not null"`
	Status     Status  `json:"status" gorm:"type:varchar(20);index;not null"`
	Payload    RawJSON `json:"data" gorm:"type:jsonb"`
	Options    Options `json:"options" gorm:"type:jsonb"`
	Progress   int     `json:"progress"`

	Result RawJSON   `json:"result,omitempty" gorm:"type:jsonb"`
	Error  *JobError `json:"error,omitempty" gorm:"type:jsonb"`

	Priority int `json:"priority"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// PRStatus records whether the post-success git-workflow PR step
	// failed without aborting the job result — see §4.D failure semantics.
	PRStatus string `json:"prStatus,omitempty" gorm:"-"`

	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate generates an id and stamps OriginalID if the caller left
// them unset — mirrors the donor Job model's UUID-on-create hook.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.OriginalID == "" {
		j.OriginalID = OriginalID(j.ID)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	return nil
}

// IsTerminal reports whether Status is one of the two terminal states.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ErrIllegalTransition is a programming-error fault: the server never
// re-enters a terminal state and never skips the state machine's order.
var ErrIllegalTransition = errors.New("illegal job state transition")

var legalTransitions = map[Status][]Status{
	StatusCreated:   {StatusQueued},
	StatusQueued:    {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// Transition validates and applies a status change in place.
func (j *Job) Transition(to Status) error {
	for _, allowed := range legalTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			return nil
		}
	}
	return ErrIllegalTransition
}

// RetryInfo is per-original-id retry bookkeeping. Created lazily on first
// retryable failure; deleted on success, exhaustion, or circuit-breaker
// trip.
type RetryInfo struct {
	OriginalID    string    `json:"originalId" gorm:"primaryKey"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
	MaxAttempts   int       `json:"maxAttempts"`
	BaseDelayMs   int       `json:"baseDelayMs"`
}

// AbsoluteMaxRetries is the circuit-breaker cap on retries, regardless of
// a job's own maxAttempts, per §3's RetryInfo invariant.
const AbsoluteMaxRetries = 5
