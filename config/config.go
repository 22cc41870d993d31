package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

// Embedder backends.
const (
	EmbedderHashing = "hashing"
	EmbedderOpenAI  = "openai"
)

// Config is the node configuration, read from the environment after an
// optional .env file.
type Config struct {
	Environment string
	LogLevel    string

	APIPort    int
	NATSURL    string // empty runs without a message bus
	DataDir    string // empty keeps storage in memory
	ScenesFile string

	// Encoder
	Embedder       string
	HashingDim     int
	HVDim          int
	HVSeed         int64
	EmbeddingCache time.Duration

	// Model access
	OpenAIKey      string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string
	LLMRate        float64

	// Negotiation
	DefaultKStar     int
	CollectTimeout   time.Duration
	Round2Timeout    time.Duration
	MinResponders    int
	WorkflowPrefix   string
	ArchiveRetention time.Duration
	EchoQuorum       int

	// Maintenance schedules, in robfig/cron spec syntax.
	TunerSchedule       string
	CrystallizeSchedule string
	MaintenanceSchedule string

	// API rate limit per client
	RateLimit int
	RateBurst int

	TemplateDir string
}

// Load reads .env if present and then the environment.
func Load() (Config, error) {
	log := logging.For("config")
	if err := godotenv.Load(); err != nil {
		log.Debug(".env file not found, using environment only")
	}

	var errs []string
	c := Config{
		Environment:         str("ENVIRONMENT", "development"),
		LogLevel:            str("LOG_LEVEL", "info"),
		APIPort:             integer("API_PORT", 3000, &errs),
		NATSURL:             str("NATS_URL", ""),
		DataDir:             str("DATA_DIR", ""),
		ScenesFile:          str("SCENES_FILE", "scenes.yaml"),
		Embedder:            strings.ToLower(str("EMBEDDER", "")),
		HashingDim:          integer("HASHING_DIM", 1024, &errs),
		HVDim:               integer("HV_DIM", 10000, &errs),
		HVSeed:              int64(integer("HV_SEED", 1, &errs)),
		EmbeddingCache:      duration("EMBEDDING_CACHE_TTL", 30*time.Minute, &errs),
		OpenAIKey:           str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       str("OPENAI_BASE_URL", ""),
		ChatModel:           str("OPENAI_CHAT_MODEL", ""),
		EmbeddingModel:      str("OPENAI_EMBEDDING_MODEL", ""),
		LLMRate:             float("OPENAI_RPS", 10, &errs),
		DefaultKStar:        integer("DEFAULT_K_STAR", 10, &errs),
		CollectTimeout:      duration("COLLECT_TIMEOUT", 30*time.Second, &errs),
		Round2Timeout:       duration("ROUND2_TIMEOUT", 15*time.Second, &errs),
		MinResponders:       integer("MIN_RESPONDERS", 1, &errs),
		WorkflowPrefix:      str("WORKFLOW_PREFIX", ""),
		ArchiveRetention:    duration("ARCHIVE_RETENTION", 7*24*time.Hour, &errs),
		EchoQuorum:          integer("ECHO_QUORUM", 2, &errs),
		TunerSchedule:       str("TUNER_SCHEDULE", "@every 10m"),
		CrystallizeSchedule: str("CRYSTALLIZE_SCHEDULE", "@every 15m"),
		MaintenanceSchedule: str("MAINTENANCE_SCHEDULE", "@every 5m"),
		RateLimit:           integer("RATE_LIMIT", 60, &errs),
		RateBurst:           integer("RATE_BURST", 20, &errs),
		TemplateDir:         str("TEMPLATE_DIR", ""),
	}
	if c.Embedder == "" {
		c.Embedder = EmbedderHashing
		if c.OpenAIKey != "" {
			c.Embedder = EmbedderOpenAI
		}
	}
	if err := c.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return c, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if c.OpenAIKey == "" {
		log.Warn("OPENAI_API_KEY not set, running with local embedder and quorum aggregator")
	}
	return c, nil
}

// Validate checks value ranges and combinations.
func (c Config) Validate() error {
	switch {
	case c.Embedder != EmbedderHashing && c.Embedder != EmbedderOpenAI:
		return fmt.Errorf("EMBEDDER must be %q or %q, got %q", EmbedderHashing, EmbedderOpenAI, c.Embedder)
	case c.Embedder == EmbedderOpenAI && c.OpenAIKey == "":
		return fmt.Errorf("EMBEDDER=openai requires OPENAI_API_KEY")
	case c.HVDim < 64:
		return fmt.Errorf("HV_DIM must be at least 64, got %d", c.HVDim)
	case c.DefaultKStar < 1:
		return fmt.Errorf("DEFAULT_K_STAR must be positive, got %d", c.DefaultKStar)
	case c.MinResponders < 1:
		return fmt.Errorf("MIN_RESPONDERS must be positive, got %d", c.MinResponders)
	case c.CollectTimeout <= 0:
		return fmt.Errorf("COLLECT_TIMEOUT must be positive")
	}
	return nil
}

func str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func integer(key string, def int, errs *[]string) int {
	v := str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func float(key string, def float64, errs *[]string) float64 {
	v := str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

func duration(key string, def time.Duration, errs *[]string) time.Duration {
	v := str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}
