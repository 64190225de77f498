package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BulkOperationStatus is the lifecycle state of an upstream bulk export.
type BulkOperationStatus string

const (
	BulkOperationCreated   BulkOperationStatus = "CREATED"
	BulkOperationRunning   BulkOperationStatus = "RUNNING"
	BulkOperationCompleted BulkOperationStatus = "COMPLETED"
	BulkOperationFailed    BulkOperationStatus = "FAILED"
	BulkOperationCancelled BulkOperationStatus = "CANCELLED"
)

// ParseBulkOperationStatus normalizes upstream spellings into the persisted lifecycle.
// EXPIRED is recorded as FAILED and CANCELING as CANCELLED.
func ParseBulkOperationStatus(v string) (BulkOperationStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "CREATED":
		return BulkOperationCreated, nil
	case "RUNNING":
		return BulkOperationRunning, nil
	case "COMPLETED":
		return BulkOperationCompleted, nil
	case "FAILED", "EXPIRED":
		return BulkOperationFailed, nil
	case "CANCELED", "CANCELLED", "CANCELING":
		return BulkOperationCancelled, nil
	default:
		return "", fmt.Errorf("invalid bulk operation status: %q", v)
	}
}

// Terminal reports whether the status ends the lifecycle.
func (s BulkOperationStatus) Terminal() bool {
	return s == BulkOperationCompleted || s == BulkOperationFailed || s == BulkOperationCancelled
}

// CanTransition reports whether moving from s to next follows CREATED -> RUNNING -> terminal.
// Terminal states may be reached directly from CREATED when the upstream reports failure.
func (s BulkOperationStatus) CanTransition(next BulkOperationStatus) bool {
	switch s {
	case BulkOperationCreated:
		return next == BulkOperationRunning || next.Terminal()
	case BulkOperationRunning:
		return next.Terminal()
	default:
		return false
	}
}

// BulkOperationAction names what the export is used for.
type BulkOperationAction string

// BulkOperationActionPushDown reorders a collection so out-of-stock items sink.
const BulkOperationActionPushDown BulkOperationAction = "PUSH_DOWN"

// BulkOperation tracks one upstream export from start to terminal state.
// ExternalID is the upstream operation gid used to correlate the finish webhook.
type BulkOperation struct {
	ID           string              `json:"id"                     db:"id"`
	ExternalID   string              `json:"external_id"            db:"external_id"`
	Shop         string              `json:"shop"                   db:"shop"`
	CollectionID string              `json:"collection_id"          db:"collection_id"`
	Action       BulkOperationAction `json:"action"                 db:"action"`
	Status       BulkOperationStatus `json:"status"                 db:"status"`
	ErrorCode    *string             `json:"error_code,omitempty"   db:"error_code"`
	ObjectCount  *int64              `json:"object_count,omitempty" db:"object_count"`
	MovesPlanned int                 `json:"moves_planned"          db:"moves_planned"`
	MovesApplied int                 `json:"moves_applied"          db:"moves_applied"`
	JobPayload   json.RawMessage     `json:"job_payload"            db:"job_payload"`
	LastError    *string             `json:"last_error,omitempty"   db:"last_error"`
	CreatedAt    time.Time           `json:"created_at"             db:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time           `json:"updated_at"             db:"updated_at"`
}

// CreateBulkOperationRequest persists a freshly started export.
type CreateBulkOperationRequest struct {
	ExternalID   string
	Shop         string
	CollectionID string
	Action       BulkOperationAction
	JobPayload   json.RawMessage
	CreatedAt    time.Time
}

// FinishBulkOperationRequest records a status transition and its outcome counters.
type FinishBulkOperationRequest struct {
	ExternalID   string
	Status       BulkOperationStatus
	ErrorCode    *string
	ObjectCount  *int64
	MovesPlanned *int
	MovesApplied *int
	LastError    *string
	CompletedAt  *time.Time
}

// BulkOperationJobPayload is the snapshot stored with an export so the finish webhook can
// resume without re-deriving context.
type BulkOperationJobPayload struct {
	Shop              string          `json:"shop"`
	CollectionID      string          `json:"collectionID"`
	SelectedLocations []string        `json:"selectedLocations"`
	Trigger           json.RawMessage `json:"trigger,omitempty"`
}

// UpstreamBulkOperation is the upstream view of a bulk operation.
type UpstreamBulkOperation struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ErrorCode      *string    `json:"errorCode"`
	URL            *string    `json:"url"`
	PartialDataURL *string    `json:"partialDataUrl"`
	ObjectCount    *int64     `json:"objectCount,string"`
	CreatedAt      *time.Time `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

// InFlight reports whether the upstream still works on the operation.
func (o *UpstreamBulkOperation) InFlight() bool {
	if o == nil {
		return false
	}
	s := strings.ToUpper(o.Status)
	return s == string(BulkOperationCreated) || s == string(BulkOperationRunning)
}
