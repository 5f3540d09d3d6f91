package legacy

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
)

// Sentinel errors for reader failures.
var (
	// ErrSourceUnavailable indicates a connection or timeout failure against
	// the legacy store. Retryable.
	ErrSourceUnavailable = errors.NewStd("legacy source unavailable")

	// ErrSchemaMismatch indicates an expected legacy table or column is
	// absent. Fatal for the run.
	ErrSchemaMismatch = errors.NewStd("legacy schema mismatch")

	// ErrUnknownTable indicates a read was requested for a table the reader
	// does not know.
	ErrUnknownTable = errors.NewStd("unknown legacy table")
)

// requiredColumns lists, per table, the columns the engine cannot migrate
// without. Probed at open so schema drift fails fast instead of surfacing as
// row-level dirt mid-run.
var requiredColumns = map[Table][]string{
	TableUser:        {"id", "username", "first_name", "last_name"},
	TableOffice:      {"id", "name"},
	TablePatient:     {"id", "office_id", "status"},
	TableInstruction: {"id", "patient_id", "title"},
	TableOrder:       {"id", "instruction_id"},
	TableTemplate:    {"id", "name"},
	TableComm:        {"id", "body"},
}

// probeModels maps tables to the GORM models used for schema probing.
var probeModels = map[Table]any{
	TableUser:        &User{},
	TableOffice:      &Office{},
	TablePatient:     &Patient{},
	TableInstruction: &Instruction{},
	TableOrder:       &Order{},
	TableTemplate:    &Template{},
	TableComm:        &Comm{},
}

// Reader provides paginated, strictly ordered extraction from the legacy
// store. The cursor is the primary key ascending, so re-reading from a
// checkpoint cursor yields no gaps or duplicates even while the source is
// under concurrent write load.
type Reader struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the legacy store described by conn. The connection is used
// read-only; the reader never writes to the source.
func Open(conn *conf.DatabaseConnection, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch conn.Driver {
	case "sqlite":
		dialector = sqlite.Open(conn.Path)
	case "mysql":
		dialector = mysql.Open(conn.DSN())
	default:
		return nil, errors.Newf("unsupported legacy driver %q", conn.Driver).
			Component("legacy-reader").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, errors.Newf("failed to open legacy store: %w: %w", ErrSourceUnavailable, err).
			Component("legacy-reader").
			Category(errors.CategorySourceUnavailable).
			Build()
	}

	return &Reader{db: db, logger: logger}, nil
}

// NewReader wraps an existing GORM handle, used by tests.
func NewReader(db *gorm.DB, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{db: db, logger: logger}
}

// VerifySchema probes every source table for the columns the engine requires.
// A missing table or column is a fatal schema mismatch, not a data problem.
func (r *Reader) VerifySchema() error {
	migrator := r.db.Migrator()
	for _, table := range Tables {
		model := probeModels[table]
		if !migrator.HasTable(model) {
			return errors.Newf("%w: table %s is missing", ErrSchemaMismatch, table).
				Component("legacy-reader").
				Category(errors.CategorySchemaMismatch).
				Context("table", string(table)).
				Build()
		}
		for _, column := range requiredColumns[table] {
			if !migrator.HasColumn(model, column) {
				return errors.Newf("%w: column %s.%s is missing", ErrSchemaMismatch, table, column).
					Component("legacy-reader").
					Category(errors.CategorySchemaMismatch).
					Context("table", string(table)).
					Context("column", column).
					Build()
			}
		}
	}
	return nil
}

// ReadPage returns up to pageSize records from table with primary key greater
// than afterCursor, ordered by primary key ascending, together with the cursor
// for the next page. A nextCursor equal to afterCursor means the table is
// exhausted.
func (r *Reader) ReadPage(ctx context.Context, table Table, afterCursor int64, pageSize int) ([]Record, int64, error) {
	records, err := r.readTyped(ctx, table, afterCursor, pageSize)
	if err != nil {
		return nil, afterCursor, r.classify(table, err)
	}

	nextCursor := afterCursor
	if len(records) > 0 {
		nextCursor = records[len(records)-1].SourceID()
	}
	return records, nextCursor, nil
}

// readTyped dispatches to the typed query for the table. Pages are selected
// with a cursor predicate rather than OFFSET so concurrent inserts in the
// source cannot shift rows between pages.
func (r *Reader) readTyped(ctx context.Context, table Table, after int64, limit int) ([]Record, error) {
	page := r.db.WithContext(ctx).Where("id > ?", after).Order("id ASC").Limit(limit)

	switch table {
	case TableUser:
		var rows []User
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TableOffice:
		var rows []Office
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TablePatient:
		var rows []Patient
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TableInstruction:
		var rows []Instruction
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TableOrder:
		var rows []Order
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TableTemplate:
		var rows []Template
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	case TableComm:
		var rows []Comm
		if err := page.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asRecords(rows), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
}

// Count returns the total number of rows in table, used for progress totals.
func (r *Reader) Count(ctx context.Context, table Table) (int64, error) {
	model, ok := probeModels[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
		return 0, r.classify(table, err)
	}
	return count, nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps raw database errors onto the migration error taxonomy.
// Deadline expiry is a retryable timeout; anything else from the driver is
// treated as the source being unavailable, also retryable.
func (r *Reader) classify(table Table, err error) error {
	category := errors.CategorySourceUnavailable
	wrapped := fmt.Errorf("reading %s: %w: %w", table, ErrSourceUnavailable, err)
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
		wrapped = fmt.Errorf("reading %s: deadline exceeded: %w", table, err)
	}

	r.logger.Warn("legacy read failed", "table", table, "error", err)
	return errors.New(wrapped).
		Component("legacy-reader").
		Category(category).
		Context("table", string(table)).
		Build()
}

func asRecords[T Record](rows []T) []Record {
	records := make([]Record, len(rows))
	for i := range rows {
		records[i] = rows[i]
	}
	return records
}
