// Package transform maps validated legacy records into target-entity drafts.
// Transformation is a pure function of the input records and the join index:
// no hidden state, no store access. Records whose mandatory join partners are
// missing yield a skip, which is recorded but never fails the batch.
package transform

import (
	"fmt"

	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/legacy"
)

// SkipError marks a record that cannot become a draft. Skips are recorded in
// the report and excluded from loading; they do not fail the batch.
type SkipError struct {
	Reason string
	// Filtered marks records that are out of scope for the entity type
	// rather than defective. Filtered records are counted but not itemized.
	Filtered bool
}

func (e *SkipError) Error() string { return "transform skip: " + e.Reason }

// Skip creates a SkipError with a formatted reason.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Filter creates a SkipError for a record that is simply not in scope.
func Filter(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...), Filtered: true}
}

// IsSkip reports whether err is a transform skip.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// IsFiltered reports whether err is an out-of-scope filter rather than a
// data problem.
func IsFiltered(err error) bool {
	var se *SkipError
	return errors.As(err, &se) && se.Filtered
}

// JoinIndex resolves joins by natural key during transformation. The
// orchestrator populates it from the reference tables before transforming
// dependent entity types; composite drafts never rely on positional joins.
type JoinIndex struct {
	Users        map[int64]legacy.User
	Offices      map[int64]legacy.Office
	Patients     map[int64]legacy.Patient
	Instructions map[int64]legacy.Instruction
	Templates    map[int64]legacy.Template
}

// NewJoinIndex creates an empty join index.
func NewJoinIndex() *JoinIndex {
	return &JoinIndex{
		Users:        make(map[int64]legacy.User),
		Offices:      make(map[int64]legacy.Office),
		Patients:     make(map[int64]legacy.Patient),
		Instructions: make(map[int64]legacy.Instruction),
		Templates:    make(map[int64]legacy.Template),
	}
}

// Add indexes a record under its primary key.
func (ji *JoinIndex) Add(record legacy.Record) {
	switch rec := record.(type) {
	case legacy.User:
		ji.Users[rec.ID] = rec
	case legacy.Office:
		ji.Offices[rec.ID] = rec
	case legacy.Patient:
		ji.Patients[rec.ID] = rec
	case legacy.Instruction:
		ji.Instructions[rec.ID] = rec
	case legacy.Template:
		ji.Templates[rec.ID] = rec
	}
}

// Transformer maps legacy records to target drafts using the join index.
type Transformer struct {
	index *JoinIndex
}

// New creates a transformer over the given join index.
func New(index *JoinIndex) *Transformer {
	if index == nil {
		index = NewJoinIndex()
	}
	return &Transformer{index: index}
}

// Transform produces the draft for one record of the given entity type.
func (t *Transformer) Transform(entityType entity.Type, record legacy.Record) (*entity.Draft, error) {
	switch entityType {
	case entity.TypePractice:
		office, ok := record.(legacy.Office)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.Practice(office)
	case entity.TypeProfile:
		user, ok := record.(legacy.User)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.Profile(user)
	case entity.TypePracticeMember:
		user, ok := record.(legacy.User)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.PracticeMember(user)
	case entity.TypePatient:
		patient, ok := record.(legacy.Patient)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.Patient(patient)
	case entity.TypeCase:
		instruction, ok := record.(legacy.Instruction)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.Case(instruction)
	case entity.TypeOrder:
		order, ok := record.(legacy.Order)
		if !ok {
			return nil, typeMismatch(entityType, record)
		}
		return t.Order(order)
	default:
		return nil, fmt.Errorf("no transformer for entity type %s", entityType)
	}
}

func typeMismatch(entityType entity.Type, record legacy.Record) error {
	return Skip("record from %s cannot produce a %s draft", record.SourceTable(), entityType)
}

// Practice maps a dispatch_office row to a practice draft.
func (t *Transformer) Practice(office legacy.Office) (*entity.Draft, error) {
	draft := entity.NewDraft(entity.TypePractice, entity.NaturalKeyFor(entity.TypePractice, office.ID))
	draft.AddProvenance(string(legacy.TableOffice), office.ID)
	draft.Fields["name"] = office.Name
	draft.Fields["address"] = office.Address
	draft.Fields["phone"] = NormalizePhone(office.Phone)
	draft.Fields["created_at"] = NormalizeDate(office.CreatedAt)
	return draft, nil
}

// Profile maps a staff auth_user row to a profile draft. Non-staff users do
// not get profiles; their demographics surface through patient drafts.
func (t *Transformer) Profile(user legacy.User) (*entity.Draft, error) {
	if !user.IsStaff {
		return nil, Filter("user %d is not staff", user.ID)
	}
	draft := entity.NewDraft(entity.TypeProfile, entity.NaturalKeyFor(entity.TypeProfile, user.ID))
	draft.AddProvenance(string(legacy.TableUser), user.ID)
	draft.Fields["username"] = user.Username
	draft.Fields["first_name"] = user.FirstName
	draft.Fields["last_name"] = user.LastName
	draft.Fields["email"] = user.Email
	draft.Fields["active"] = user.IsActive
	draft.Fields["joined_at"] = NormalizeDate(user.DateJoined)
	return draft, nil
}

// PracticeMember links a staff user to the office they work at.
func (t *Transformer) PracticeMember(user legacy.User) (*entity.Draft, error) {
	if !user.IsStaff {
		return nil, Filter("user %d is not staff", user.ID)
	}
	if user.OfficeID == nil {
		return nil, Skip("staff user %d has no office", user.ID)
	}
	if _, ok := t.index.Offices[*user.OfficeID]; !ok {
		return nil, Skip("staff user %d references missing office %d", user.ID, *user.OfficeID)
	}

	draft := entity.NewDraft(entity.TypePracticeMember, entity.NaturalKeyFor(entity.TypePracticeMember, user.ID, *user.OfficeID))
	draft.AddProvenance(string(legacy.TableUser), user.ID)

	practiceKey := entity.NaturalKeyFor(entity.TypePractice, *user.OfficeID)
	profileKey := entity.NaturalKeyFor(entity.TypeProfile, user.ID)
	draft.Fields["practice_key"] = practiceKey
	draft.Fields["profile_key"] = profileKey
	draft.Fields["role"] = "staff"
	draft.AddDependency(entity.TypePractice, practiceKey)
	draft.AddDependency(entity.TypeProfile, profileKey)
	return draft, nil
}

// Patient merges a dispatch_patient row with its auth_user row into a patient
// draft. The user join is mandatory: demographics live on the user row.
func (t *Transformer) Patient(patient legacy.Patient) (*entity.Draft, error) {
	if patient.UserID == nil {
		return nil, Skip("patient %d has no linked user", patient.ID)
	}
	user, ok := t.index.Users[*patient.UserID]
	if !ok {
		return nil, Skip("patient %d references missing user %d", patient.ID, *patient.UserID)
	}

	draft := entity.NewDraft(entity.TypePatient, entity.NaturalKeyFor(entity.TypePatient, patient.ID))
	draft.AddProvenance(string(legacy.TablePatient), patient.ID)
	draft.AddProvenance(string(legacy.TableUser), user.ID)

	draft.Fields["first_name"] = user.FirstName
	draft.Fields["last_name"] = user.LastName
	draft.Fields["email"] = user.Email
	draft.Fields["date_of_birth"] = NormalizeDate(patient.DateOfBirth)
	draft.Fields["phone"] = NormalizePhone(patient.Phone)
	draft.Fields["gender"] = DefaultGender(patient.Gender)
	draft.Fields["status"] = PatientStatus(patient.Status)
	draft.Fields["created_at"] = NormalizeDate(patient.CreatedAt)

	if patient.OfficeID != nil {
		practiceKey := entity.NaturalKeyFor(entity.TypePractice, *patient.OfficeID)
		draft.Fields["practice_key"] = practiceKey
		draft.AddDependency(entity.TypePractice, practiceKey)
	}
	return draft, nil
}

// Case maps a dispatch_instruction row to a case draft. The patient join is
// mandatory; a case without a patient is clinically meaningless.
func (t *Transformer) Case(instruction legacy.Instruction) (*entity.Draft, error) {
	if instruction.PatientID == nil {
		return nil, Skip("instruction %d has no patient", instruction.ID)
	}
	if _, ok := t.index.Patients[*instruction.PatientID]; !ok {
		return nil, Skip("instruction %d references missing patient %d", instruction.ID, *instruction.PatientID)
	}

	draft := entity.NewDraft(entity.TypeCase, entity.NaturalKeyFor(entity.TypeCase, instruction.ID))
	draft.AddProvenance(string(legacy.TableInstruction), instruction.ID)

	patientKey := entity.NaturalKeyFor(entity.TypePatient, *instruction.PatientID)
	draft.Fields["patient_key"] = patientKey
	draft.AddDependency(entity.TypePatient, patientKey)

	draft.Fields["title"] = instruction.Title
	draft.Fields["kind"] = instruction.Kind
	draft.Fields["status"] = CaseStatus(instruction.Status)
	draft.Fields["priority"] = instruction.Priority
	draft.Fields["due_date"] = NormalizeDate(instruction.DueDate)
	draft.Fields["created_at"] = NormalizeDate(instruction.CreatedAt)

	if instruction.OfficeID != nil {
		practiceKey := entity.NaturalKeyFor(entity.TypePractice, *instruction.OfficeID)
		draft.Fields["practice_key"] = practiceKey
		draft.AddDependency(entity.TypePractice, practiceKey)
	}
	return draft, nil
}

// Order merges a dispatch_order row with its instruction and optional
// template into an order draft. The instruction join is mandatory.
func (t *Transformer) Order(order legacy.Order) (*entity.Draft, error) {
	if order.InstructionID == nil {
		return nil, Skip("order %d has no instruction", order.ID)
	}
	if _, ok := t.index.Instructions[*order.InstructionID]; !ok {
		return nil, Skip("order %d references missing instruction %d", order.ID, *order.InstructionID)
	}

	draft := entity.NewDraft(entity.TypeOrder, entity.NaturalKeyFor(entity.TypeOrder, order.ID))
	draft.AddProvenance(string(legacy.TableOrder), order.ID)

	caseKey := entity.NaturalKeyFor(entity.TypeCase, *order.InstructionID)
	draft.Fields["case_key"] = caseKey
	draft.AddDependency(entity.TypeCase, caseKey)

	draft.Fields["status"] = OrderStatus(order.Status)
	draft.Fields["notes"] = order.Notes
	draft.Fields["created_at"] = NormalizeDate(order.CreatedAt)

	// Template is an optional join; its name is denormalized into the order.
	if order.TemplateID != nil {
		if template, ok := t.index.Templates[*order.TemplateID]; ok {
			draft.Fields["template_name"] = template.Name
			draft.AddProvenance(string(legacy.TableTemplate), template.ID)
		}
	}

	// Assignment is an optional join to a staff profile.
	if order.AssignedToID != nil {
		if user, ok := t.index.Users[*order.AssignedToID]; ok && user.IsStaff {
			profileKey := entity.NaturalKeyFor(entity.TypeProfile, user.ID)
			draft.Fields["assigned_profile_key"] = profileKey
			draft.AddDependency(entity.TypeProfile, profileKey)
		}
	}
	return draft, nil
}
