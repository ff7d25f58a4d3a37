package models

import "time"

// Tombstone is implemented by soft-deletable records.
type Tombstone interface {
	IsDeleted() bool
	MarkDeleted(at time.Time, by string)
}

// AuditColumns are carried by every workflow table.
type AuditColumns struct {
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy *string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	UpdatedBy *string    `db:"updated_by" json:"updatedBy,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	Version   int        `db:"version" json:"version"`
}

// Stamp initialises the columns of a new record.
func (a *AuditColumns) Stamp(at time.Time, by string) {
	a.CreatedAt = at
	a.UpdatedAt = at
	a.CreatedBy = optional(by)
	a.UpdatedBy = optional(by)
	a.Version = 1
}

// Touch records a modification.
func (a *AuditColumns) Touch(at time.Time, by string) {
	a.UpdatedAt = at
	if by != "" {
		a.UpdatedBy = optional(by)
	}
}

// IsDeleted implements Tombstone.
func (a *AuditColumns) IsDeleted() bool {
	return a.DeletedAt != nil
}

// MarkDeleted implements Tombstone.
func (a *AuditColumns) MarkDeleted(at time.Time, by string) {
	if a.DeletedAt != nil {
		return
	}
	a.DeletedAt = &at
	a.Touch(at, by)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
