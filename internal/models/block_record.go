package models

import "time"

// Block types for abuse escalation.
const (
	BlockTypeTemporary = "temporary"
	BlockTypePermanent = "permanent"
)

// Incident categories that feed the abuse engine.
const (
	IncidentSignatureFailure = "signature_failure"
	IncidentOTPLockout       = "otp_lockout"
	IncidentRateAbuse        = "rate_abuse"
)

// BlockRecord tracks offenses per source IP. A nil BlockedUntil means the
// block is permanent.
type BlockRecord struct {
	BaseModel
	IP            string     `gorm:"uniqueIndex" json:"ip"`
	OffenseCount  int        `json:"offense_count"`
	LastOffenseAt time.Time  `json:"last_offense_at"`
	BlockedUntil  *time.Time `json:"blocked_until"`
	BlockType     string     `json:"block_type"`
	IncidentType  string     `json:"incident_type"`

	// Admin override bookkeeping.
	UnblockedBy  string `json:"unblocked_by,omitempty"`
	OverrideNote string `json:"override_note,omitempty"`
}
