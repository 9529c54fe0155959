package model

import (
	"strconv"
	"time"
)

// Status is the lifecycle status of one catalog item.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"

	// StatusState tags bookkeeping records such as the crawl watermark.
	StatusState Status = "STATE"
)

// Watermark record key.
const (
	WatermarkID   = "__STATE__"
	WatermarkSort = "LAST_SCANNED_ID"
)

// SortLayout is the fixed-width timestamp layout used for sort keys so that
// lexical order matches time order.
const SortLayout = "2006-01-02T15:04:05.000000000Z"

// ItemState is one record in the state store. Item records are keyed by
// (ID, attempt timestamp); the watermark uses a sentinel sort key and
// carries its value in Value.
type ItemState struct {
	ID           string    `json:"id"`
	Sort         string    `json:"sort"`
	Status       Status    `json:"status"`
	LastUpdated  time.Time `json:"last_updated"`
	ContentHash  string    `json:"content_hash,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Value        string    `json:"value,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SortKey formats t as a state-store sort key.
func SortKey(t time.Time) string {
	return t.UTC().Format(SortLayout)
}

// ItemKey returns the state-store ID for a catalog item.
func ItemKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Terminal reports whether the status ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
