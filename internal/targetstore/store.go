package targetstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/logging"
)

// ErrUnknownEntityType indicates a draft of a type the store has no table for.
var ErrUnknownEntityType = errors.NewStd("unknown entity type")

// models lists every target table, in migration order.
var models = []any{
	&Practice{},
	&Profile{},
	&PracticeMember{},
	&Patient{},
	&Case{},
	&Order{},
}

// updateColumns lists, per entity type, the columns refreshed when an upsert
// hits an existing natural key. Primary key, natural key and created_at are
// never touched, which keeps re-runs stable.
var updateColumns = map[entity.Type][]string{
	entity.TypePractice:       {"name", "address", "phone", "source_created_at", "provenance", "updated_at"},
	entity.TypeProfile:        {"username", "first_name", "last_name", "email", "active", "joined_at", "provenance", "updated_at"},
	entity.TypePracticeMember: {"practice_key", "profile_key", "role", "provenance", "updated_at"},
	entity.TypePatient: {
		"practice_key", "first_name", "last_name", "email", "date_of_birth", "phone", "gender",
		"status", "dedup_confidence", "dedup_merged_from", "source_created_at", "provenance", "updated_at",
	},
	entity.TypeCase: {
		"patient_key", "practice_key", "title", "kind", "status", "priority", "due_date",
		"source_created_at", "provenance", "updated_at",
	},
	entity.TypeOrder: {
		"case_key", "assigned_profile_key", "template_name", "status", "notes",
		"source_created_at", "provenance", "updated_at",
	},
}

// Store is the target database. Safe for concurrent use; GORM pools
// connections underneath.
type Store struct {
	db       *gorm.DB
	settings *conf.TargetSettings
	logger   *slog.Logger
}

// Open connects to the target database, runs schema migration and optionally
// relaxes referential enforcement for the duration of the bulk load.
func Open(settings *conf.TargetSettings, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.ForService("targetstore")
	}

	var dialector gorm.Dialector
	switch settings.Connection.Driver {
	case "sqlite":
		dir, fileName := filepath.Split(settings.Connection.Path)
		dialector = sqlite.Open(filepath.Join(conf.GetBasePath(dir), fileName))
	case "mysql":
		dialector = mysql.Open(settings.Connection.DSN())
	default:
		return nil, errors.New(fmt.Errorf("unsupported target driver: %s", settings.Connection.Driver)).
			Component("targetstore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, errors.New(err).
			Component("targetstore").
			Category(errors.CategorySourceUnavailable).
			Context("driver", settings.Connection.Driver).
			Build()
	}

	if err := db.AutoMigrate(models...); err != nil {
		return nil, errors.New(err).
			Component("targetstore").
			Category(errors.CategorySchemaMismatch).
			Build()
	}

	store := &Store{db: db, settings: settings, logger: logger}
	if settings.RelaxForeignKeys {
		if err := store.setForeignKeys(false); err != nil {
			return nil, err
		}
		logger.Info("relaxed target foreign key enforcement for bulk load")
	}
	return store, nil
}

// NewStore wraps an already-open GORM handle, used by tests.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.ForService("targetstore")
	}
	return &Store{db: db, settings: &conf.TargetSettings{}, logger: logger}, nil
}

func (s *Store) setForeignKeys(enabled bool) error {
	var stmt string
	switch s.settings.Connection.Driver {
	case "mysql":
		if enabled {
			stmt = "SET FOREIGN_KEY_CHECKS = 1"
		} else {
			stmt = "SET FOREIGN_KEY_CHECKS = 0"
		}
	default:
		if enabled {
			stmt = "PRAGMA foreign_keys = ON"
		} else {
			stmt = "PRAGMA foreign_keys = OFF"
		}
	}
	if err := s.db.Exec(stmt).Error; err != nil {
		return errors.New(err).
			Component("targetstore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// UpsertBatch writes the drafts as a single transactional batch of upserts
// keyed by natural key. Either the whole batch lands or none of it does.
func (s *Store) UpsertBatch(ctx context.Context, entityType entity.Type, drafts []*entity.Draft) error {
	if len(drafts) == 0 {
		return nil
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoUpdates: clause.AssignmentColumns(updateColumns[entityType]),
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch entityType {
		case entity.TypePractice:
			return tx.Clauses(onConflict).Create(buildRows(drafts, practiceRow)).Error
		case entity.TypeProfile:
			return tx.Clauses(onConflict).Create(buildRows(drafts, profileRow)).Error
		case entity.TypePracticeMember:
			return tx.Clauses(onConflict).Create(buildRows(drafts, practiceMemberRow)).Error
		case entity.TypePatient:
			return tx.Clauses(onConflict).Create(buildRows(drafts, patientRow)).Error
		case entity.TypeCase:
			return tx.Clauses(onConflict).Create(buildRows(drafts, caseRow)).Error
		case entity.TypeOrder:
			return tx.Clauses(onConflict).Create(buildRows(drafts, orderRow)).Error
		default:
			return ErrUnknownEntityType
		}
	})
	if err != nil {
		return errors.New(err).
			Component("targetstore").
			Category(classifyWriteError(ctx, err)).
			Context("entity_type", string(entityType)).
			Context("batch_len", len(drafts)).
			Timing("upsert-batch", time.Since(start)).
			Build()
	}
	return nil
}

func classifyWriteError(ctx context.Context, err error) errors.ErrorCategory {
	switch {
	case errors.Is(err, ErrUnknownEntityType):
		return errors.CategorySchemaMismatch
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		return errors.CategoryTimeout
	default:
		return errors.CategoryWriteFailed
	}
}

// DeleteByNaturalKeys removes rows whose identities were absorbed into a
// canonical row after they had already been written. Missing keys are a
// no-op, so the call is safe to repeat.
func (s *Store) DeleteByNaturalKeys(ctx context.Context, entityType entity.Type, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	model, err := s.modelFor(entityType)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("natural_key IN ?", keys).Delete(model).Error; err != nil {
		return errors.New(err).
			Component("targetstore").
			Category(classifyWriteError(ctx, err)).
			Context("entity_type", string(entityType)).
			Context("keys", len(keys)).
			Build()
	}
	return nil
}

// HasNaturalKeys reports which of the given keys already exist in the target
// table for the entity type. Used by the loader to validate references.
func (s *Store) HasNaturalKeys(ctx context.Context, entityType entity.Type, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	model, err := s.modelFor(entityType)
	if err != nil {
		return nil, err
	}

	var existing []string
	if err := s.db.WithContext(ctx).Model(model).
		Where("natural_key IN ?", keys).
		Pluck("natural_key", &existing).Error; err != nil {
		return nil, errors.New(err).
			Component("targetstore").
			Category(errors.CategoryDatabase).
			Context("entity_type", string(entityType)).
			Build()
	}
	for _, key := range existing {
		found[key] = true
	}
	return found, nil
}

// CountByType returns the current row count of every target table.
func (s *Store) CountByType(ctx context.Context) (map[entity.Type]int64, error) {
	counts := make(map[entity.Type]int64, len(entity.LoadOrder))
	for _, entityType := range entity.LoadOrder {
		model, err := s.modelFor(entityType)
		if err != nil {
			return nil, err
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
			return nil, errors.New(err).
				Component("targetstore").
				Category(errors.CategoryDatabase).
				Context("entity_type", string(entityType)).
				Build()
		}
		counts[entityType] = count
	}
	return counts, nil
}

func (s *Store) modelFor(entityType entity.Type) (any, error) {
	switch entityType {
	case entity.TypePractice:
		return &Practice{}, nil
	case entity.TypeProfile:
		return &Profile{}, nil
	case entity.TypePracticeMember:
		return &PracticeMember{}, nil
	case entity.TypePatient:
		return &Patient{}, nil
	case entity.TypeCase:
		return &Case{}, nil
	case entity.TypeOrder:
		return &Order{}, nil
	default:
		return nil, errors.New(ErrUnknownEntityType).
			Component("targetstore").
			Category(errors.CategorySchemaMismatch).
			Context("entity_type", string(entityType)).
			Build()
	}
}

// Close re-enables any relaxed constraints and releases the connection pool.
func (s *Store) Close() error {
	if s.settings.RelaxForeignKeys {
		if err := s.setForeignKeys(true); err != nil {
			return err
		}
		s.logger.Info("restored target foreign key enforcement")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// buildRows converts drafts to model rows with the given per-type builder.
func buildRows[M any](drafts []*entity.Draft, build func(*entity.Draft) M) []M {
	rows := make([]M, 0, len(drafts))
	for _, draft := range drafts {
		rows = append(rows, build(draft))
	}
	return rows
}

func practiceRow(d *entity.Draft) Practice {
	return Practice{
		NaturalKey:      d.NaturalKey,
		Name:            fieldString(d, "name"),
		Address:         fieldString(d, "address"),
		Phone:           fieldString(d, "phone"),
		SourceCreatedAt: fieldString(d, "created_at"),
		Provenance:      d.ProvenanceString(),
	}
}

func profileRow(d *entity.Draft) Profile {
	return Profile{
		NaturalKey: d.NaturalKey,
		Username:   fieldString(d, "username"),
		FirstName:  fieldString(d, "first_name"),
		LastName:   fieldString(d, "last_name"),
		Email:      fieldString(d, "email"),
		Active:     fieldBool(d, "active"),
		JoinedAt:   fieldString(d, "joined_at"),
		Provenance: d.ProvenanceString(),
	}
}

func practiceMemberRow(d *entity.Draft) PracticeMember {
	return PracticeMember{
		NaturalKey:  d.NaturalKey,
		PracticeKey: fieldKey(d, "practice_key"),
		ProfileKey:  fieldKey(d, "profile_key"),
		Role:        fieldString(d, "role"),
		Provenance:  d.ProvenanceString(),
	}
}

func patientRow(d *entity.Draft) Patient {
	return Patient{
		NaturalKey:      d.NaturalKey,
		PracticeKey:     fieldKey(d, "practice_key"),
		FirstName:       fieldString(d, "first_name"),
		LastName:        fieldString(d, "last_name"),
		Email:           fieldString(d, "email"),
		DateOfBirth:     fieldString(d, "date_of_birth"),
		Phone:           fieldString(d, "phone"),
		Gender:          fieldString(d, "gender"),
		Status:          fieldString(d, "status"),
		DedupConfidence: fieldFloat(d, "dedup_confidence"),
		DedupMergedFrom: fieldString(d, "dedup_merged_from"),
		SourceCreatedAt: fieldString(d, "created_at"),
		Provenance:      d.ProvenanceString(),
	}
}

func caseRow(d *entity.Draft) Case {
	return Case{
		NaturalKey:      d.NaturalKey,
		PatientKey:      fieldKey(d, "patient_key"),
		PracticeKey:     fieldKey(d, "practice_key"),
		Title:           fieldString(d, "title"),
		Kind:            fieldString(d, "kind"),
		Status:          fieldString(d, "status"),
		Priority:        fieldInt(d, "priority"),
		DueDate:         fieldString(d, "due_date"),
		SourceCreatedAt: fieldString(d, "created_at"),
		Provenance:      d.ProvenanceString(),
	}
}

func orderRow(d *entity.Draft) Order {
	return Order{
		NaturalKey:         d.NaturalKey,
		CaseKey:            fieldKey(d, "case_key"),
		AssignedProfileKey: fieldKey(d, "assigned_profile_key"),
		TemplateName:       fieldString(d, "template_name"),
		Status:             fieldString(d, "status"),
		Notes:              fieldString(d, "notes"),
		SourceCreatedAt:    fieldString(d, "created_at"),
		Provenance:         d.ProvenanceString(),
	}
}

func fieldString(d *entity.Draft, name string) string {
	if v, ok := d.Fields[name].(string); ok {
		return v
	}
	return ""
}

// fieldKey reads a reference field as a nullable column value. Absent or
// emptied references become NULL, never the empty string.
func fieldKey(d *entity.Draft, name string) *string {
	if v, ok := d.Fields[name].(string); ok && v != "" {
		return &v
	}
	return nil
}

func fieldBool(d *entity.Draft, name string) bool {
	if v, ok := d.Fields[name].(bool); ok {
		return v
	}
	return false
}

func fieldInt(d *entity.Draft, name string) int {
	switch v := d.Fields[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func fieldFloat(d *entity.Draft, name string) float64 {
	switch v := d.Fields[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
