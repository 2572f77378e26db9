package domain

import "time"

// ProcessingStatus is the lifecycle state of a metadata record.
type ProcessingStatus string

const (
	StatusQueued          ProcessingStatus = "QUEUED"
	StatusPending         ProcessingStatus = "PENDING"
	StatusInProgress      ProcessingStatus = "IN_PROGRESS"
	StatusCompleted       ProcessingStatus = "COMPLETED"
	StatusFailedRetryable ProcessingStatus = "FAILED_RETRYABLE"
	StatusFailedPermanent ProcessingStatus = "FAILED_PERMANENT"
)

// Terminal reports whether the status is final. Terminal records are never
// transitioned back to a non-terminal state.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// InFlight reports whether a record is somewhere between enqueue and a terminal
// state. Lookups for in-flight records answer 202 without re-enqueuing.
func (s ProcessingStatus) InFlight() bool {
	switch s {
	case StatusQueued, StatusPending, StatusInProgress, StatusFailedRetryable:
		return true
	}
	return false
}

// Envelope is the message payload published to the broker queue.
type Envelope struct {
	URL         string `json:"url"`
	RequestedAt string `json:"requested_at"`
	RequestID   string `json:"request_id"`
}

// Metadata is the captured HTTP response block. Populated only when the record
// reaches COMPLETED.
type Metadata struct {
	Headers           map[string]string `bson:"headers" json:"headers"`
	Cookies           map[string]string `bson:"cookies" json:"cookies"`
	PageSource        string            `bson:"page_source" json:"page_source"`
	StatusCode        int               `bson:"status_code" json:"status_code"`
	FinalURL          string            `bson:"final_url" json:"-"`
	AdditionalDetails map[string]any    `bson:"additional_details,omitempty" json:"additional_details"`
}

// EmptyMetadata is the metadata block written on first insert.
func EmptyMetadata() Metadata {
	return Metadata{
		Headers: map[string]string{},
		Cookies: map[string]string{},
	}
}

// Processing carries bookkeeping about fetch attempts.
type Processing struct {
	AttemptNumber int       `bson:"attempt_number" json:"attempt_number"`
	ErrorMsg      string    `bson:"error_msg" json:"error_msg"`
	LastAttemptAt time.Time `bson:"last_attempt_at" json:"last_attempt_at"`
	LastRequestID string    `bson:"last_request_id" json:"last_request_id"`
}

// Record is one metadata record, uniquely keyed by normalized URL.
type Record struct {
	URL        string           `bson:"url" json:"url"`
	Status     ProcessingStatus `bson:"status" json:"status"`
	Metadata   Metadata         `bson:"metadata" json:"metadata"`
	Processing Processing       `bson:"processing" json:"processing"`
	CreatedAt  time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `bson:"updated_at" json:"updated_at"`
}

// FetchResult is what a successful fetch yields.
type FetchResult struct {
	Headers    map[string]string
	Cookies    map[string]string
	PageSource string
	StatusCode int
	FinalURL   string
}
