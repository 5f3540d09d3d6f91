// Package legacy provides read-only, typed access to the legacy
// practice-management schema. Rows are mapped to concrete record types at the
// boundary and never passed onward as untyped maps.
package legacy

import (
	"time"
)

// Table identifies a legacy source table.
type Table string

const (
	TableUser        Table = "auth_user"
	TableOffice      Table = "dispatch_office"
	TablePatient     Table = "dispatch_patient"
	TableInstruction Table = "dispatch_instruction"
	TableOrder       Table = "dispatch_order"
	TableTemplate    Table = "dispatch_template"
	TableComm        Table = "dispatch_comm"
)

// Tables lists every source table the reader knows how to extract.
var Tables = []Table{
	TableUser,
	TableOffice,
	TablePatient,
	TableInstruction,
	TableOrder,
	TableTemplate,
	TableComm,
}

// Record is one row read from a source table. Records are immutable once read.
type Record interface {
	// SourceTable returns the table the record came from.
	SourceTable() Table
	// SourceID returns the stable primary key of the row.
	SourceID() int64
}

// User is a row from auth_user. Staff users become profiles in the target
// schema; patient-linked users contribute demographics to patient drafts.
type User struct {
	ID         int64      `gorm:"column:id;primaryKey"`
	Username   string     `gorm:"column:username"`
	FirstName  string     `gorm:"column:first_name"`
	LastName   string     `gorm:"column:last_name"`
	Email      string     `gorm:"column:email"`
	IsStaff    bool       `gorm:"column:is_staff"`
	IsActive   bool       `gorm:"column:is_active"`
	OfficeID   *int64     `gorm:"column:office_id"` // dispatch customization of auth_user
	DateJoined *time.Time `gorm:"column:date_joined"`
}

func (User) TableName() string  { return string(TableUser) }
func (User) SourceTable() Table { return TableUser }
func (u User) SourceID() int64  { return u.ID }

// Office is a row from dispatch_office. Offices become practices.
type Office struct {
	ID        int64      `gorm:"column:id;primaryKey"`
	Name      string     `gorm:"column:name"`
	Address   string     `gorm:"column:address"`
	Phone     string     `gorm:"column:phone"`
	CreatedAt *time.Time `gorm:"column:created_at"`
}

func (Office) TableName() string  { return string(TableOffice) }
func (Office) SourceTable() Table { return TableOffice }
func (o Office) SourceID() int64  { return o.ID }

// Patient is a row from dispatch_patient. Together with its auth_user row it
// becomes a patient draft.
type Patient struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	UserID      *int64     `gorm:"column:user_id"`
	OfficeID    *int64     `gorm:"column:office_id"`
	DateOfBirth *time.Time `gorm:"column:date_of_birth"`
	Phone       string     `gorm:"column:phone"`
	Gender      string     `gorm:"column:gender"`
	Status      int        `gorm:"column:status"`
	CreatedAt   *time.Time `gorm:"column:created_at"`
	UpdatedAt   *time.Time `gorm:"column:updated_at"`
}

func (Patient) TableName() string  { return string(TablePatient) }
func (Patient) SourceTable() Table { return TablePatient }
func (p Patient) SourceID() int64  { return p.ID }

// Instruction is a row from dispatch_instruction. Instructions become cases.
type Instruction struct {
	ID        int64      `gorm:"column:id;primaryKey"`
	PatientID *int64     `gorm:"column:patient_id"`
	OfficeID  *int64     `gorm:"column:office_id"`
	Title     string     `gorm:"column:title"`
	Kind      string     `gorm:"column:instruction_type"`
	Status    int        `gorm:"column:status"`
	Priority  int        `gorm:"column:priority"`
	DueDate   *time.Time `gorm:"column:due_date"`
	CreatedAt *time.Time `gorm:"column:created_at"`
}

func (Instruction) TableName() string  { return string(TableInstruction) }
func (Instruction) SourceTable() Table { return TableInstruction }
func (i Instruction) SourceID() int64  { return i.ID }

// Order is a row from dispatch_order. Joined with its instruction (and
// optionally a template) it becomes an order draft.
type Order struct {
	ID            int64      `gorm:"column:id;primaryKey"`
	InstructionID *int64     `gorm:"column:instruction_id"`
	TemplateID    *int64     `gorm:"column:template_id"`
	AssignedToID  *int64     `gorm:"column:assigned_to_id"`
	Status        int        `gorm:"column:status"`
	Notes         string     `gorm:"column:notes"`
	CreatedAt     *time.Time `gorm:"column:created_at"`
}

func (Order) TableName() string  { return string(TableOrder) }
func (Order) SourceTable() Table { return TableOrder }
func (o Order) SourceID() int64  { return o.ID }

// Template is a row from dispatch_template. Template names are denormalized
// into order drafts; template content feeds the enrichment phase.
type Template struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	OfficeID *int64 `gorm:"column:office_id"`
	Name     string `gorm:"column:name"`
	Category string `gorm:"column:category"`
	Content  string `gorm:"column:content"`
}

func (Template) TableName() string  { return string(TableTemplate) }
func (Template) SourceTable() Table { return TableTemplate }
func (t Template) SourceID() int64  { return t.ID }

// Comm is a row from dispatch_comm, a free-text communication record. Comm
// rows are not loaded into the target schema; they feed the knowledge base
// during the enrichment phase.
type Comm struct {
	ID        int64      `gorm:"column:id;primaryKey"`
	PatientID *int64     `gorm:"column:patient_id"`
	Subject   string     `gorm:"column:subject"`
	Body      string     `gorm:"column:body"`
	CreatedAt *time.Time `gorm:"column:created_at"`
}

func (Comm) TableName() string  { return string(TableComm) }
func (Comm) SourceTable() Table { return TableComm }
func (c Comm) SourceID() int64  { return c.ID }
