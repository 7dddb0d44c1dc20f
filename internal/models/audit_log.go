package models

// AuditLog is an append-only trail of retention notifications and
// deletions. Rows are never updated or removed; this is a compliance
// record, not diagnostic logging.
type AuditLog struct {
	BaseModel
	Table     string `gorm:"column:table_name" json:"table_name"`
	Operation string `json:"operation"`
	RowCount  int64  `json:"row_count"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}
