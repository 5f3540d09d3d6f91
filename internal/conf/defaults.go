// defaults.go: viper defaults for all settings. Values here are the documented
// baseline; the config file and CLINSYNC_* environment variables override them.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "clinsync")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/migration.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// Source (legacy store)
	viper.SetDefault("source.connection.driver", "mysql")
	viper.SetDefault("source.connection.host", "localhost")
	viper.SetDefault("source.connection.port", "3306")
	viper.SetDefault("source.connection.username", "readonly")
	viper.SetDefault("source.connection.password", "")
	viper.SetDefault("source.connection.database", "legacy_pm")
	viper.SetDefault("source.connection.path", "")

	// Target store
	viper.SetDefault("target.connection.driver", "sqlite")
	viper.SetDefault("target.connection.path", "clinsync.db")
	viper.SetDefault("target.connection.host", "localhost")
	viper.SetDefault("target.connection.port", "3306")
	viper.SetDefault("target.connection.username", "clinsync")
	viper.SetDefault("target.connection.password", "")
	viper.SetDefault("target.connection.database", "clinsync")
	viper.SetDefault("target.relaxforeignkeys", true)

	// Checkpoint store
	viper.SetDefault("checkpoint.path", "clinsync-checkpoint.db")

	// Migration engine
	viper.SetDefault("migration.batchsize", 500)
	viper.SetDefault("migration.workers", 4)
	viper.SetDefault("migration.dryrun", false)
	viper.SetDefault("migration.continueonerror", true)
	viper.SetDefault("migration.maxquarantinerate", 0.25)
	viper.SetDefault("migration.storetimeout", 30*time.Second)
	viper.SetDefault("migration.skipphases", []string{})
	viper.SetDefault("migration.skipentities", []string{})
	viper.SetDefault("migration.retry.maxattempts", 3)
	viper.SetDefault("migration.retry.initialbackoff", time.Second)
	viper.SetDefault("migration.retry.maxbackoff", 30*time.Second)
	viper.SetDefault("migration.retry.multiplier", 2.0)

	// Deduplication. Thresholds are a business decision, defaults only.
	viper.SetDefault("dedup.enabled", true)
	viper.SetDefault("dedup.fuzzyconfidence", 0.8)
	viper.SetDefault("dedup.ambiguouslow", 0.5)
	viper.SetDefault("dedup.maxeditdistance", 1)
	viper.SetDefault("dedup.crossoffice", false)

	// Enrichment
	viper.SetDefault("enrichment.enabled", false)
	viper.SetDefault("enrichment.retryfailures", false)
	viper.SetDefault("enrichment.knowledgebasepath", "clinsync-kb.db")
	viper.SetDefault("enrichment.dimensions", 384)
	viper.SetDefault("enrichment.provider", "none")
	viper.SetDefault("enrichment.endpoint", "")
	viper.SetDefault("enrichment.apikey", "")

	// Observability
	viper.SetDefault("observability.enabled", false)
	viper.SetDefault("observability.listen", "localhost:9464")
}
