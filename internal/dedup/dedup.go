// Package dedup merges duplicate patient drafts before loading. Matching runs
// as a tiered cascade: exact identity tuples merge at full confidence, fuzzy
// name matches merge at a configured confidence, and near-misses in the
// ambiguous band are reported for manual review but never merged.
package dedup

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/logging"
	"github.com/clinsync/clinsync-go/internal/transform"
)

// Match tiers, in descending confidence.
const (
	TierExact     = "exact"
	TierFuzzy     = "fuzzy"
	TierAmbiguous = "ambiguous"
)

// Match records one pairwise decision between two patient drafts. Merged
// matches appear in Result.Matches; ambiguous ones in Result.Warnings.
type Match struct {
	LeftKey    string
	RightKey   string
	Tier       string
	Confidence float64
	Reason     string
}

// Result is the outcome of one dedup pass.
type Result struct {
	// Canonical holds the surviving drafts, duplicates folded into their
	// canonical draft, in the input order of the canonical records.
	Canonical []*entity.Draft
	// Rewrites maps each absorbed natural key to its canonical key. Dependent
	// drafts (cases, orders) must be rewritten through this map before loading.
	Rewrites map[string]string
	// Matches is the audit trail of merges performed.
	Matches []Match
	// Warnings lists ambiguous pairs that were left unmerged.
	Warnings []Match
}

// candidate is the match-relevant projection of one patient draft.
type candidate struct {
	key      string
	id       int64
	first    string
	last     string
	dob      string
	phone4   string
	practice string
	draft    *entity.Draft
}

// Deduper performs patient identity deduplication.
type Deduper struct {
	settings *conf.DedupSettings
	logger   *slog.Logger
}

// New creates a deduper with the given settings.
func New(settings *conf.DedupSettings, logger *slog.Logger) *Deduper {
	if logger == nil {
		logger = logging.ForService("dedup")
	}
	return &Deduper{settings: settings, logger: logger}
}

// Run deduplicates the given patient drafts. Non-patient drafts pass through
// untouched. The result is independent of input order: clusters canonicalize
// on the lowest source id, so shuffled input produces the same canonical set.
func (d *Deduper) Run(drafts []*entity.Draft) *Result {
	result := &Result{Rewrites: make(map[string]string)}

	if !d.settings.Enabled {
		result.Canonical = drafts
		return result
	}

	candidates := make([]candidate, 0, len(drafts))
	for _, draft := range drafts {
		if draft.Type != entity.TypePatient {
			result.Canonical = append(result.Canonical, draft)
			continue
		}
		candidates = append(candidates, d.project(draft))
	}

	// Deterministic pair enumeration regardless of input order.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	uf := newUnionFind()
	confidences := make(map[string]float64)

	d.matchExact(candidates, uf, confidences, result)
	d.matchFuzzy(candidates, uf, confidences, result)

	d.fold(candidates, uf, confidences, result)
	return result
}

// project extracts the normalized match tuple from a patient draft.
func (d *Deduper) project(draft *entity.Draft) candidate {
	c := candidate{
		key:    draft.NaturalKey,
		id:     sourceIDOf(draft.NaturalKey),
		first:  transform.NormalizeName(stringField(draft, "first_name")),
		last:   transform.NormalizeName(stringField(draft, "last_name")),
		dob:    stringField(draft, "date_of_birth"),
		phone4: transform.PhoneLast4(stringField(draft, "phone")),
		draft:  draft,
	}
	if !d.settings.CrossOffice {
		c.practice = stringField(draft, "practice_key")
	}
	return c
}

// matchExact unions candidates sharing the full identity tuple.
func (d *Deduper) matchExact(candidates []candidate, uf *unionFind, confidences map[string]float64, result *Result) {
	groups := make(map[string][]candidate)
	for _, c := range candidates {
		if c.first == "" || c.last == "" || c.dob == "" {
			continue
		}
		block := strings.Join([]string{c.first, c.last, c.dob, c.phone4, c.practice}, "|")
		groups[block] = append(groups[block], c)
	}

	for _, group := range groups {
		for i := 1; i < len(group); i++ {
			left, right := group[0], group[i]
			uf.union(left.key, right.key, left.id, right.id)
			recordConfidence(confidences, left.key, 1.0)
			recordConfidence(confidences, right.key, 1.0)
			result.Matches = append(result.Matches, Match{
				LeftKey:    left.key,
				RightKey:   right.key,
				Tier:       TierExact,
				Confidence: 1.0,
				Reason:     "identical name, date of birth and phone",
			})
		}
	}
}

// matchFuzzy unions candidates sharing last name and date of birth whose
// first names are within the configured edit distance. Pairs below that but
// above the ambiguous floor are warned about and left alone.
func (d *Deduper) matchFuzzy(candidates []candidate, uf *unionFind, confidences map[string]float64, result *Result) {
	blocks := make(map[string][]candidate)
	for _, c := range candidates {
		if c.last == "" || c.dob == "" {
			continue
		}
		block := strings.Join([]string{c.last, c.dob, c.practice}, "|")
		blocks[block] = append(blocks[block], c)
	}

	for _, block := range blocks {
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				left, right := block[i], block[j]
				if uf.find(left.key) == uf.find(right.key) {
					continue
				}
				if left.first == "" || right.first == "" {
					// Last name and date of birth alone cannot tell identities apart.
					continue
				}

				distance := EditDistance(left.first, right.first)
				if distance <= d.settings.MaxEditDistance {
					uf.union(left.key, right.key, left.id, right.id)
					recordConfidence(confidences, left.key, d.settings.FuzzyConfidence)
					recordConfidence(confidences, right.key, d.settings.FuzzyConfidence)
					result.Matches = append(result.Matches, Match{
						LeftKey:    left.key,
						RightKey:   right.key,
						Tier:       TierFuzzy,
						Confidence: d.settings.FuzzyConfidence,
						Reason:     fmt.Sprintf("first name edit distance %d with matching last name and date of birth", distance),
					})
					continue
				}

				score := Similarity(left.first, right.first)
				if score >= d.settings.AmbiguousLow {
					warning := Match{
						LeftKey:    left.key,
						RightKey:   right.key,
						Tier:       TierAmbiguous,
						Confidence: score,
						Reason:     fmt.Sprintf("first names %.0f%% similar, below merge threshold", score*100),
					}
					result.Warnings = append(result.Warnings, warning)
					d.logger.Warn("ambiguous patient match left unmerged",
						"left", left.key, "right", right.key, "similarity", score)
				}
			}
		}
	}
}

// fold collapses each union-find cluster onto its canonical draft, merging
// provenance and stamping the audit fields.
func (d *Deduper) fold(candidates []candidate, uf *unionFind, confidences map[string]float64, result *Result) {
	byKey := make(map[string]candidate, len(candidates))
	clusters := make(map[string][]string)
	for _, c := range candidates {
		byKey[c.key] = c
		root := uf.find(c.key)
		clusters[root] = append(clusters[root], c.key)
	}

	// Canonical records in ascending source-id order, same as the sorted input.
	for _, c := range candidates {
		root := uf.find(c.key)
		if root != c.key {
			result.Rewrites[c.key] = root
			continue
		}

		members := clusters[root]
		if len(members) > 1 {
			d.stampMerge(c.draft, members, byKey, confidences[root])
		}
		result.Canonical = append(result.Canonical, c.draft)
	}
}

// stampMerge merges duplicate provenance into the canonical draft and records
// the merge on the draft itself so the target rows carry their own audit.
func (d *Deduper) stampMerge(canonical *entity.Draft, members []string, byKey map[string]candidate, confidence float64) {
	seen := make(map[entity.SourceRef]bool)
	for _, ref := range canonical.Provenance {
		seen[ref] = true
	}

	merged := make([]string, 0, len(members)-1)
	for _, key := range members {
		if key == canonical.NaturalKey {
			continue
		}
		merged = append(merged, key)
		for _, ref := range byKey[key].draft.Provenance {
			if !seen[ref] {
				seen[ref] = true
				canonical.Provenance = append(canonical.Provenance, ref)
			}
		}
	}
	sort.Strings(merged)

	canonical.Fields["dedup_confidence"] = confidence
	canonical.Fields["dedup_merged_from"] = strings.Join(merged, ",")
	d.logger.Info("merged duplicate patients",
		"canonical", canonical.NaturalKey, "merged", merged, "confidence", confidence)
}

// RewriteDependencies redirects a dependent draft's references from absorbed
// keys to their canonical keys, in both the dependency lists and any key
// fields. Must run after dedup and before loading.
func RewriteDependencies(draft *entity.Draft, rewrites map[string]string) {
	if len(rewrites) == 0 {
		return
	}
	for t, keys := range draft.DependsOn {
		for i, key := range keys {
			if canonical, ok := rewrites[key]; ok {
				keys[i] = canonical
			}
		}
		draft.DependsOn[t] = keys
	}
	for field, value := range draft.Fields {
		if !strings.HasSuffix(field, "_key") {
			continue
		}
		if key, ok := value.(string); ok {
			if canonical, ok := rewrites[key]; ok {
				draft.Fields[field] = canonical
			}
		}
	}
}

// recordConfidence keeps the weakest confidence seen for a key, so a cluster
// formed through a fuzzy link never reports exact-match confidence.
func recordConfidence(confidences map[string]float64, key string, confidence float64) {
	if current, ok := confidences[key]; !ok || confidence < current {
		confidences[key] = confidence
	}
}

// stringField reads a draft field as a string, empty when absent or non-string.
func stringField(draft *entity.Draft, name string) string {
	if v, ok := draft.Fields[name].(string); ok {
		return v
	}
	return ""
}

// sourceIDOf parses the numeric source id out of a patient natural key.
func sourceIDOf(naturalKey string) int64 {
	parts := strings.Split(naturalKey, ":")
	if len(parts) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// unionFind tracks duplicate clusters. The root of every cluster is the
// member with the lowest source id, which makes canonicalization independent
// of the order matches were discovered in.
type unionFind struct {
	parent map[string]string
	ids    map[string]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), ids: make(map[string]int64)}
}

func (uf *unionFind) find(key string) string {
	parent, ok := uf.parent[key]
	if !ok || parent == key {
		return key
	}
	root := uf.find(parent)
	uf.parent[key] = root
	return root
}

func (uf *unionFind) union(a, b string, aID, bID int64) {
	uf.ids[a], uf.ids[b] = aID, bID
	rootA, rootB := uf.find(a), uf.find(b)
	if rootA == rootB {
		return
	}
	if uf.ids[rootA] <= uf.ids[rootB] {
		uf.parent[rootB] = rootA
	} else {
		uf.parent[rootA] = rootB
	}
}
