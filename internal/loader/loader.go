// Package loader writes entity drafts into the target store in dependency
// order. References to rows that never made it into the target are downgraded
// to NULL and recorded, so one bad record cannot hold back its batch.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/logging"
	"github.com/clinsync/clinsync-go/internal/targetstore"
)

// ErrDependencyOrder indicates an attempt to load an entity type before one
// of the types it depends on.
var ErrDependencyOrder = errors.NewStd("entity type loaded out of dependency order")

// SkippedRef records one reference that was downgraded to NULL because its
// target row was never loaded.
type SkippedRef struct {
	DraftKey string
	RefType  entity.Type
	RefKey   string
}

// FailedRecord records one draft whose write kept failing after retries. The
// rest of the batch still loads.
type FailedRecord struct {
	DraftKey string
	Reason   string
}

// Result summarizes one loaded batch.
type Result struct {
	Loaded      int
	SkippedRefs []SkippedRef
	Failed      []FailedRecord
}

// Loader validates references and upserts drafts. The loaded-key cache is a
// lookaside over the target store: hits answer reference checks without a
// query, misses fall through to the store, so resumed runs see keys loaded
// by previous processes.
type Loader struct {
	store    *targetstore.Store
	keys     *cache.Cache
	retry    RetryPolicy
	settings *conf.MigrationSettings
	logger   *slog.Logger
	loaded   map[entity.Type]bool
}

// New creates a loader over the given target store.
func New(store *targetstore.Store, settings *conf.MigrationSettings, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = logging.ForService("loader")
	}
	return &Loader{
		store:    store,
		keys:     cache.New(cache.NoExpiration, 0),
		retry:    NewRetryPolicy(settings.Retry),
		settings: settings,
		logger:   logger,
		loaded:   make(map[entity.Type]bool),
	}
}

// MarkTypeLoaded records that every batch of an entity type has been
// processed, unlocking the types that depend on it.
func (l *Loader) MarkTypeLoaded(entityType entity.Type) {
	l.loaded[entityType] = true
}

// Load resolves references and upserts one batch of drafts of a single
// entity type. In dry-run mode everything runs except the final write.
func (l *Loader) Load(ctx context.Context, entityType entity.Type, drafts []*entity.Draft) (*Result, error) {
	if err := l.checkOrder(entityType); err != nil {
		return nil, err
	}

	result := &Result{}
	if len(drafts) == 0 {
		return result, nil
	}

	resolved, err := l.resolveReferences(ctx, drafts)
	if err != nil {
		return nil, err
	}

	for _, draft := range drafts {
		result.SkippedRefs = append(result.SkippedRefs, l.downgradeDangling(draft, resolved)...)
	}

	if !l.settings.DryRun {
		err := l.retry.Do(ctx, l.logger, fmt.Sprintf("upsert-%s", entityType), func() error {
			writeCtx, cancel := context.WithTimeout(ctx, l.settings.StoreTimeout)
			defer cancel()
			return l.store.UpsertBatch(writeCtx, entityType, drafts)
		})
		if err != nil {
			if !isolatable(err) {
				return nil, err
			}
			// One bad row fails the whole transactional batch. Retry the
			// drafts individually so its siblings still land.
			loaded, failed, lerr := l.loadIndividually(ctx, entityType, drafts)
			result.Failed = failed
			if lerr != nil {
				return nil, lerr
			}
			drafts = loaded
		}
	}

	// Keys become visible to dependent types only after the write landed.
	for _, draft := range drafts {
		l.keys.Set(draft.NaturalKey, true, cache.NoExpiration)
	}
	result.Loaded = len(drafts)
	return result, nil
}

// isolatable reports whether a batch write failure can be narrowed down to
// individual records. Unreachable-store and deadline failures cannot: those
// fail the batch, which the checkpoint retries wholesale.
func isolatable(err error) bool {
	return errors.CategoryOf(err) == errors.CategoryWriteFailed
}

// loadIndividually upserts drafts one at a time, each under the retry policy,
// collecting the records that kept failing. A non-record-level failure aborts
// the remainder of the batch.
func (l *Loader) loadIndividually(ctx context.Context, entityType entity.Type, drafts []*entity.Draft) (loaded []*entity.Draft, failed []FailedRecord, err error) {
	loaded = make([]*entity.Draft, 0, len(drafts))
	for _, draft := range drafts {
		one := []*entity.Draft{draft}
		werr := l.retry.Do(ctx, l.logger, fmt.Sprintf("upsert-%s", draft.NaturalKey), func() error {
			writeCtx, cancel := context.WithTimeout(ctx, l.settings.StoreTimeout)
			defer cancel()
			return l.store.UpsertBatch(writeCtx, entityType, one)
		})
		switch {
		case werr == nil:
			loaded = append(loaded, draft)
		case isolatable(werr):
			l.logger.Error("record write failed, continuing batch",
				"draft", draft.NaturalKey, "error", werr)
			failed = append(failed, FailedRecord{DraftKey: draft.NaturalKey, Reason: werr.Error()})
		default:
			return loaded, failed, werr
		}
	}
	return loaded, failed, nil
}

// Discard removes already-loaded rows whose identities were later absorbed
// into a canonical row, and forgets their keys so references stop resolving
// to them. Keys never loaded are a no-op.
func (l *Loader) Discard(ctx context.Context, entityType entity.Type, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		l.keys.Delete(key)
	}
	if l.settings.DryRun {
		return nil
	}
	return l.retry.Do(ctx, l.logger, fmt.Sprintf("discard-%s", entityType), func() error {
		writeCtx, cancel := context.WithTimeout(ctx, l.settings.StoreTimeout)
		defer cancel()
		return l.store.DeleteByNaturalKeys(writeCtx, entityType, keys)
	})
}

// checkOrder rejects loading a type before the types it depends on.
func (l *Loader) checkOrder(entityType entity.Type) error {
	for _, dep := range entityType.Dependencies() {
		if !l.loaded[dep] {
			return errors.New(fmt.Errorf("%w: %s before %s", ErrDependencyOrder, entityType, dep)).
				Component("loader").
				Category(errors.CategoryDependencyUnmet).
				Build()
		}
	}
	return nil
}

// resolveReferences answers, for every key referenced by the batch, whether
// its row exists in the target. Cache hits skip the store query.
func (l *Loader) resolveReferences(ctx context.Context, drafts []*entity.Draft) (map[string]bool, error) {
	resolved := make(map[string]bool)
	missing := make(map[entity.Type][]string)

	for _, draft := range drafts {
		for refType, keys := range draft.DependsOn {
			for _, key := range keys {
				if _, seen := resolved[key]; seen {
					continue
				}
				if _, hit := l.keys.Get(key); hit {
					resolved[key] = true
					continue
				}
				resolved[key] = false
				missing[refType] = append(missing[refType], key)
			}
		}
	}

	for refType, keys := range missing {
		queryCtx, cancel := context.WithTimeout(ctx, l.settings.StoreTimeout)
		found, err := l.store.HasNaturalKeys(queryCtx, refType, keys)
		cancel()
		if err != nil {
			return nil, err
		}
		for key, ok := range found {
			if ok {
				resolved[key] = true
				l.keys.Set(key, true, cache.NoExpiration)
			}
		}
	}
	return resolved, nil
}

// downgradeDangling nulls out references to rows that do not exist, recording
// each one. The draft still loads; only the dangling link is dropped.
func (l *Loader) downgradeDangling(draft *entity.Draft, resolved map[string]bool) []SkippedRef {
	var skipped []SkippedRef
	for refType, keys := range draft.DependsOn {
		kept := keys[:0]
		for _, key := range keys {
			if resolved[key] {
				kept = append(kept, key)
				continue
			}
			skipped = append(skipped, SkippedRef{DraftKey: draft.NaturalKey, RefType: refType, RefKey: key})
			l.nullKeyFields(draft, key)
			l.logger.Warn("reference target missing, loading with NULL link",
				"draft", draft.NaturalKey, "ref_type", string(refType), "ref_key", key)
		}
		if len(kept) == 0 {
			delete(draft.DependsOn, refType)
		} else {
			draft.DependsOn[refType] = kept
		}
	}
	return skipped
}

func (l *Loader) nullKeyFields(draft *entity.Draft, refKey string) {
	for field, value := range draft.Fields {
		if !strings.HasSuffix(field, "_key") {
			continue
		}
		if v, ok := value.(string); ok && v == refKey {
			delete(draft.Fields, field)
		}
	}
}
