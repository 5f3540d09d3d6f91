// Package targetstore persists migrated entities into the target schema.
// Every write is an idempotent upsert keyed by the natural key, so re-running
// a migration converges on the same rows instead of duplicating them.
package targetstore

import (
	"time"
)

// Practice is a migrated clinic office.
type Practice struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey      string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	Name            string    `gorm:"size:255"`
	Address         string    `gorm:"size:512"`
	Phone           string    `gorm:"size:32"`
	SourceCreatedAt string    `gorm:"column:source_created_at;size:32"`
	Provenance      string    `gorm:"size:512"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Practice) TableName() string { return "practices" }

// Profile is a migrated staff account.
type Profile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	Username   string    `gorm:"size:150"`
	FirstName  string    `gorm:"size:150"`
	LastName   string    `gorm:"size:150"`
	Email      string    `gorm:"size:254"`
	Active     bool      `gorm:"column:active"`
	JoinedAt   string    `gorm:"size:32"`
	Provenance string    `gorm:"size:512"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (Profile) TableName() string { return "profiles" }

// PracticeMember links a profile to a practice.
type PracticeMember struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey  string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	PracticeKey *string   `gorm:"column:practice_key;index;size:64"`
	ProfileKey  *string   `gorm:"column:profile_key;index;size:64"`
	Role        string    `gorm:"size:64"`
	Provenance  string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (PracticeMember) TableName() string { return "practice_members" }

// Patient is a migrated, deduplicated patient identity. The dedup audit
// columns record the confidence of the weakest merge in the identity's
// cluster and the natural keys absorbed into it; both are empty for
// identities that were never merged.
type Patient struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey      string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	PracticeKey     *string   `gorm:"column:practice_key;index;size:64"`
	FirstName       string    `gorm:"size:150"`
	LastName        string    `gorm:"size:150"`
	Email           string    `gorm:"size:254"`
	DateOfBirth     string    `gorm:"size:32"`
	Phone           string    `gorm:"size:32"`
	Gender          string    `gorm:"size:1"`
	Status          string    `gorm:"size:32;index"`
	DedupConfidence float64   `gorm:"column:dedup_confidence"`
	DedupMergedFrom string    `gorm:"column:dedup_merged_from;size:512"`
	SourceCreatedAt string    `gorm:"column:source_created_at;size:32"`
	Provenance      string    `gorm:"size:512"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Patient) TableName() string { return "patients" }

// Case is a migrated treatment case.
type Case struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey      string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	PatientKey      *string   `gorm:"column:patient_key;index;size:64"`
	PracticeKey     *string   `gorm:"column:practice_key;index;size:64"`
	Title           string    `gorm:"size:255"`
	Kind            string    `gorm:"size:64"`
	Status          string    `gorm:"size:32;index"`
	Priority        int       `gorm:"column:priority"`
	DueDate         string    `gorm:"size:32"`
	SourceCreatedAt string    `gorm:"column:source_created_at;size:32"`
	Provenance      string    `gorm:"size:512"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Case) TableName() string { return "cases" }

// Order is a migrated lab or supply order attached to a case.
type Order struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	NaturalKey         string    `gorm:"column:natural_key;uniqueIndex;size:64;not null;check:natural_key <> ''"`
	CaseKey            *string   `gorm:"column:case_key;index;size:64"`
	AssignedProfileKey *string   `gorm:"column:assigned_profile_key;index;size:64"`
	TemplateName       string    `gorm:"size:255"`
	Status             string    `gorm:"size:32;index"`
	Notes              string    `gorm:"type:text"`
	SourceCreatedAt    string    `gorm:"column:source_created_at;size:32"`
	Provenance         string    `gorm:"size:512"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
