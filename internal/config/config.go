package config

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/clinical-timeline/internal/dedup"
	"github.com/sells-group/clinical-timeline/internal/merge"
	"github.com/sells-group/clinical-timeline/internal/store"
	"github.com/sells-group/clinical-timeline/internal/temporal"
	"github.com/sells-group/clinical-timeline/internal/timeline"
)

// Config holds the full application configuration.
type Config struct {
	Temporal temporal.Config `yaml:"temporal" mapstructure:"temporal"`
	Dedup    DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Merge    merge.Config    `yaml:"merge" mapstructure:"merge"`
	Timeline timeline.Config `yaml:"timeline" mapstructure:"timeline"`
	Refine   RefineConfig    `yaml:"refine" mapstructure:"refine"`
	Store    StoreConfig     `yaml:"store" mapstructure:"store"`
	Batch    BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
}

// DedupConfig configures clustering plus the optional synonym file that
// extends the built-in lexicon.
type DedupConfig struct {
	dedup.Config `yaml:",inline" mapstructure:",squash"`

	SynonymsPath string `yaml:"synonyms_path" mapstructure:"synonyms_path"`
}

// RefineConfig bounds the refinement loop.
type RefineConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	QualityThreshold float64 `yaml:"quality_threshold" mapstructure:"quality_threshold"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	tc := temporal.DefaultConfig()
	dc := dedup.DefaultConfig()
	mc := merge.DefaultConfig()
	tl := timeline.DefaultConfig()
	v.SetDefault("temporal.window", tc.Window)
	v.SetDefault("dedup.cluster_threshold", dc.ClusterThreshold)
	v.SetDefault("dedup.same_date_threshold", dc.SameDateThreshold)
	v.SetDefault("dedup.reference_threshold", dc.ReferenceThreshold)
	v.SetDefault("dedup.reference_boost", dc.ReferenceBoost)
	v.SetDefault("dedup.reference_boost_cap", dc.ReferenceBoostCap)
	v.SetDefault("dedup.unlinked_confidence_cap", dc.UnlinkedConfidenceCap)
	v.SetDefault("dedup.synonyms_path", "")
	v.SetDefault("merge.llm_threshold", mc.LLMThreshold)
	v.SetDefault("merge.contradiction_threshold", mc.ContradictionThreshold)
	v.SetDefault("timeline.procedure_fallback_days", tl.ProcedureFallbackDays)
	v.SetDefault("timeline.complication_offset_days", tl.ComplicationOffsetDays)
	v.SetDefault("timeline.include_milestones", tl.IncludeMilestones)
	v.SetDefault("refine.max_attempts", 3)
	v.SetDefault("refine.quality_threshold", 60.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "timeline.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	unit := map[string]float64{
		"dedup.cluster_threshold":       c.Dedup.ClusterThreshold,
		"dedup.same_date_threshold":     c.Dedup.SameDateThreshold,
		"dedup.reference_threshold":     c.Dedup.ReferenceThreshold,
		"dedup.reference_boost":         c.Dedup.ReferenceBoost,
		"dedup.reference_boost_cap":     c.Dedup.ReferenceBoostCap,
		"dedup.unlinked_confidence_cap": c.Dedup.UnlinkedConfidenceCap,
		"merge.llm_threshold":           c.Merge.LLMThreshold,
		"merge.contradiction_threshold": c.Merge.ContradictionThreshold,
	}
	for _, key := range sortedKeys(unit) {
		if v := unit[key]; v < 0 || v > 1 {
			problems = append(problems, key+" must be between 0 and 1")
		}
	}

	if c.Temporal.Window <= 0 {
		problems = append(problems, "temporal.window must be > 0")
	}
	if c.Timeline.ProcedureFallbackDays < 0 || c.Timeline.ComplicationOffsetDays < 0 {
		problems = append(problems, "timeline offsets must be >= 0")
	}
	if c.Refine.MaxAttempts < 1 {
		problems = append(problems, "refine.max_attempts must be >= 1")
	}
	if c.Refine.QualityThreshold < 0 || c.Refine.QualityThreshold > 100 {
		problems = append(problems, "refine.quality_threshold must be between 0 and 100")
	}
	if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 64 {
		problems = append(problems, "batch.max_concurrent_documents must be between 1 and 64")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Pool.MinConns < 0 || c.Store.Pool.MaxConns < c.Store.Pool.MinConns {
		problems = append(problems, "store.pool.min_conns must be >= 0 and <= max_conns")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
