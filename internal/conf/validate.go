package conf

import (
	"fmt"
	"slices"
	"strings"
)

var validDrivers = []string{"sqlite", "mysql"}

// ValidPhases are the phase names accepted by SkipPhases. Init, report and the
// absorbing failed state cannot be skipped.
var ValidPhases = []string{"prepare", "extract", "transform", "dedup", "validate", "load", "enrich"}

// ValidEntities are the entity type names accepted by SkipEntities.
var ValidEntities = []string{"practice", "profile", "practice_member", "patient", "case", "order"}

// ValidateSettings performs cross-field validation after loading.
func ValidateSettings(s *Settings) error {
	var problems []string

	if err := validateConnection("source", &s.Source.Connection); err != nil {
		problems = append(problems, err.Error())
	}
	if err := validateConnection("target", &s.Target.Connection); err != nil {
		problems = append(problems, err.Error())
	}
	if s.Checkpoint.Path == "" {
		problems = append(problems, "checkpoint.path must not be empty")
	}

	if s.Migration.BatchSize <= 0 {
		problems = append(problems, "migration.batchsize must be positive")
	}
	if s.Migration.Workers <= 0 {
		problems = append(problems, "migration.workers must be positive")
	}
	if s.Migration.MaxQuarantineRate < 0 || s.Migration.MaxQuarantineRate > 1 {
		problems = append(problems, "migration.maxquarantinerate must be within [0, 1]")
	}
	if s.Migration.Retry.MaxAttempts < 1 {
		problems = append(problems, "migration.retry.maxattempts must be at least 1")
	}
	if s.Migration.Retry.Multiplier < 1 {
		problems = append(problems, "migration.retry.multiplier must be at least 1")
	}
	for _, phase := range s.Migration.SkipPhases {
		if !slices.Contains(ValidPhases, phase) {
			problems = append(problems, fmt.Sprintf("migration.skipphases: unknown phase %q", phase))
		}
	}
	for _, entity := range s.Migration.SkipEntities {
		if !slices.Contains(ValidEntities, entity) {
			problems = append(problems, fmt.Sprintf("migration.skipentities: unknown entity type %q", entity))
		}
	}

	if s.Dedup.FuzzyConfidence <= 0 || s.Dedup.FuzzyConfidence > 1 {
		problems = append(problems, "dedup.fuzzyconfidence must be within (0, 1]")
	}
	if s.Dedup.AmbiguousLow < 0 || s.Dedup.AmbiguousLow >= s.Dedup.FuzzyConfidence {
		problems = append(problems, "dedup.ambiguouslow must be within [0, fuzzyconfidence)")
	}
	if s.Dedup.MaxEditDistance < 0 {
		problems = append(problems, "dedup.maxeditdistance must not be negative")
	}

	if s.Enrichment.Enabled {
		if s.Enrichment.Dimensions <= 0 {
			problems = append(problems, "enrichment.dimensions must be positive")
		}
		if s.Enrichment.KnowledgeBasePath == "" {
			problems = append(problems, "enrichment.knowledgebasepath must not be empty")
		}
	}

	if s.Observability.Enabled && s.Observability.Listen == "" {
		problems = append(problems, "observability.listen must not be empty when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateConnection(name string, conn *DatabaseConnection) error {
	if !slices.Contains(validDrivers, conn.Driver) {
		return fmt.Errorf("%s.connection.driver must be one of %v", name, validDrivers)
	}
	switch conn.Driver {
	case "sqlite":
		if conn.Path == "" {
			return fmt.Errorf("%s.connection.path must not be empty for sqlite", name)
		}
	case "mysql":
		if conn.Host == "" || conn.Database == "" {
			return fmt.Errorf("%s.connection requires host and database for mysql", name)
		}
	}
	return nil
}

// DSN returns the go-sql-driver DSN for a mysql connection.
func (c *DatabaseConnection) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
