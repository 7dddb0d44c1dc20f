package models

import "time"

// Deletion request statuses.
const (
	DeletionStatusDeferredLegal = "deferred_legal"
	DeletionStatusCompleted     = "completed"
)

// DeletionRequest records an erasure request that could not be fulfilled
// immediately because paid orders were still within mandatory tax
// retention. The retention automaton completes it once retention lapses.
type DeletionRequest struct {
	BaseModel
	// At most one pending request may exist per guest; the partial
	// unique index rejects a concurrent duplicate at the database.
	GuestEmail       string    `gorm:"index;uniqueIndex:uniq_pending_erasure_email,where:status = 'deferred_legal'" json:"guest_email"`
	Status           string    `gorm:"index" json:"status"`
	RetentionEndDate time.Time `json:"retention_end_date"`

	DeferredErasureNotified   bool       `json:"deferred_erasure_notified"`
	DeferredErasureNotifiedAt *time.Time `json:"deferred_erasure_notified_at"`

	CompletedAt *time.Time `json:"completed_at"`
}
