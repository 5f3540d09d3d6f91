// Package errors provides centralized error handling for the migration engine.
// It wraps errors with component and category metadata so that the orchestrator
// can classify failures (retryable, fatal, row-level) without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrorCategory represents the type of error for classification and reporting.
type ErrorCategory string

const (
	// CategorySourceUnavailable covers connection and timeout failures against
	// the legacy store. Retryable with bounded backoff.
	CategorySourceUnavailable ErrorCategory = "source-unavailable"

	// CategorySchemaMismatch means an expected legacy column or table is
	// absent. Fatal: the run aborts rather than migrating garbage.
	CategorySchemaMismatch ErrorCategory = "schema-mismatch"

	// CategoryRecordInvalid marks a record that failed validation and was
	// quarantined. The batch continues.
	CategoryRecordInvalid ErrorCategory = "record-invalid"

	// CategoryTransformSkip marks a record dropped by the transformer, for
	// example because a mandatory join partner is missing.
	CategoryTransformSkip ErrorCategory = "transform-skip"

	// CategoryDedupAmbiguous marks a candidate merge whose confidence fell in
	// the manual-review band. Treated as a non-merge plus a warning.
	CategoryDedupAmbiguous ErrorCategory = "dedup-ambiguous"

	// CategoryWriteFailed is a per-record write failure in the target store.
	// Retried up to the policy limit, then recorded; the batch continues.
	CategoryWriteFailed ErrorCategory = "write-failed"

	// CategoryBatchAborted means the target store became unreachable mid-batch.
	// The checkpoint is set to failed and the whole batch is retried.
	CategoryBatchAborted ErrorCategory = "batch-aborted"

	// CategoryDependencyUnmet means an entity type was asked to load before one
	// of its dependencies completed. Fatal for that entity type.
	CategoryDependencyUnmet ErrorCategory = "dependency-unmet"

	// CategoryCheckpoint covers failures persisting or reading run progress.
	CategoryCheckpoint ErrorCategory = "checkpoint"

	// CategoryEnrichment covers embedding or knowledge-base failures. These
	// degrade the run to completed-with-warnings and are never fatal.
	CategoryEnrichment ErrorCategory = "enrichment"

	// CategoryConfiguration covers invalid or missing settings.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryDatabase covers generic database errors with no narrower class.
	CategoryDatabase ErrorCategory = "database"

	// CategoryTimeout marks deadline expiry on a store call. Retryable.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryCancellation marks cooperative cancellation between batches.
	CategoryCancellation ErrorCategory = "cancellation"

	// CategoryGeneric is the fallback when no category was assigned.
	CategoryGeneric ErrorCategory = "generic"
)

// ComponentUnknown is used when the component was not specified.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error          // original error
	Component string         // engine component where the error occurred
	Category  ErrorCategory  // classification for propagation policy
	Context   map[string]any // additional context (natural keys, batch numbers)
	Timestamp time.Time      // when the error occurred

	mu sync.RWMutex
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches either the wrapped error chain or, for two EnhancedErrors,
// their categories. This lets callers write errors.Is(err, categorySentinel).
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetCategory returns the error category.
func (ee *EnhancedError) GetCategory() ErrorCategory {
	return ee.Category
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(ee.Context))
	maps.Copy(cp, ee.Context)
	return cp
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a builder around a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds one context key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// NaturalKey records the natural key of the offending record.
func (eb *ErrorBuilder) NaturalKey(key string) *ErrorBuilder {
	return eb.Context("natural_key", key)
}

// Batch records the entity type and batch number the error occurred in.
func (eb *ErrorBuilder) Batch(entityType string, batchNumber int) *ErrorBuilder {
	return eb.Context("entity_type", entityType).Context("batch_number", batchNumber)
}

// Timing adds operation timing context.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	return eb.Context("operation", operation).Context("duration_ms", duration.Milliseconds())
}

// Build creates the EnhancedError.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}
	return ee
}

// Classification of categories into the propagation policy from the design:
// row-level problems never escalate past their batch, batch-level problems
// never escalate past their entity-type phase unless fatal.

var retryableCategories = map[ErrorCategory]bool{
	CategorySourceUnavailable: true,
	CategoryWriteFailed:       true,
	CategoryBatchAborted:      true,
	CategoryTimeout:           true,
}

var fatalCategories = map[ErrorCategory]bool{
	CategorySchemaMismatch:  true,
	CategoryDependencyUnmet: true,
	CategoryConfiguration:   true,
}

var rowLevelCategories = map[ErrorCategory]bool{
	CategoryRecordInvalid:  true,
	CategoryTransformSkip:  true,
	CategoryDedupAmbiguous: true,
	CategoryWriteFailed:    true,
}

// CategoryOf extracts the category of err, or CategoryGeneric when err carries
// no enhanced metadata anywhere in its chain.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// IsRetryable reports whether err should be retried under the retry policy.
func IsRetryable(err error) bool {
	return retryableCategories[CategoryOf(err)]
}

// IsFatal reports whether err must abort the run (or the entity-type phase for
// dependency violations) rather than being absorbed into the batch result.
func IsFatal(err error) bool {
	return fatalCategories[CategoryOf(err)]
}

// IsRowLevel reports whether err is confined to a single record.
func IsRowLevel(err error) bool {
	return rowLevelCategories[CategoryOf(err)]
}

// Standard library compatibility wrappers, so callers only import this package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join wraps the provided errors into a single error.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// NewStd creates a standard error without enhancement, for sentinel errors.
func NewStd(text string) error {
	return stderrors.New(text)
}
