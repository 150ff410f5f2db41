package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config aggregates all application configuration
type Config struct {
	AI           AIConfig           `yaml:"ai"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Maps         MapsConfig         `yaml:"maps"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Planner      PlannerConfig      `yaml:"planner"`
	TravelTime   TravelTimeConfig   `yaml:"travel_time"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	DB           DatabaseConfig     `yaml:"database"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type AIConfig struct {
	Plugin string       `yaml:"plugin" env:"AI_PLUGIN" env-default:"gemini"`
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model  string `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-1.5-flash"`
}

type OllamaConfig struct {
	Model   string `yaml:"model" env:"OLLAMA_MODEL" env-default:"qwen3:4b"`
	BaseURL string `yaml:"base_url" env:"OLLAMA_BASE_URL" env-default:"http://localhost:11434"`
}

// EmbeddingConfig points the semantic retrieval branch at any
// OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	BaseURL    string `yaml:"base_url" env:"EMBEDDING_BASE_URL"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
}

type MapsConfig struct {
	APIKey string `yaml:"api_key" env:"MAPS_API_KEY"`
}

// RetrievalConfig carries the retrieval limits and branch timeout; the
// pace-keyed rerank weight table keeps its documented defaults unless the
// weights section overrides a pace wholesale.
type RetrievalConfig struct {
	N1              int `yaml:"n1" env:"RETRIEVAL_N1" env-default:"128"`
	N2              int `yaml:"n2" env:"RETRIEVAL_N2" env-default:"128"`
	TopK            int `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"64"`
	BranchTimeoutMS int `yaml:"branch_timeout_ms" env:"RETRIEVAL_BRANCH_TIMEOUT_MS" env-default:"3000"`

	Weights map[string]RerankWeights `yaml:"weights"`
}

// BranchTimeout returns the per-branch retrieval timeout as a duration.
func (c RetrievalConfig) BranchTimeout() time.Duration {
	return time.Duration(c.BranchTimeoutMS) * time.Millisecond
}

// RerankWeights is one pace's coefficient row for the rerank score.
type RerankWeights struct {
	Alpha   float64 `yaml:"alpha"`
	Beta    float64 `yaml:"beta"`
	Gamma   float64 `yaml:"gamma"`
	Delta   float64 `yaml:"delta"`
	Epsilon float64 `yaml:"epsilon"`
	Zeta    float64 `yaml:"zeta"`
	Eta     float64 `yaml:"eta"`
}

type PlannerConfig struct {
	RelaxedTarget        int     `yaml:"relaxed_target" env:"PLANNER_RELAXED_TARGET" env-default:"3"`
	ModerateTarget       int     `yaml:"moderate_target" env:"PLANNER_MODERATE_TARGET" env-default:"5"`
	IntensiveTarget      int     `yaml:"intensive_target" env:"PLANNER_INTENSIVE_TARGET" env-default:"7"`
	GreedyLambda         float64 `yaml:"greedy_lambda" env:"PLANNER_GREEDY_LAMBDA" env-default:"0.02"`
	GreedyMu             float64 `yaml:"greedy_mu" env:"PLANNER_GREEDY_MU" env-default:"0.01"`
	MarginalUtilityFloor float64 `yaml:"marginal_utility_floor" env:"PLANNER_UTILITY_FLOOR" env-default:"0.05"`
	TwoOptIterationCap   int     `yaml:"two_opt_iteration_cap" env:"PLANNER_TWO_OPT_CAP" env-default:"64"`
	MaxStayShortenPct    float64 `yaml:"max_stay_shorten_pct" env:"PLANNER_MAX_STAY_SHORTEN_PCT" env-default:"0.25"`
	RepairLadderDepth    int     `yaml:"repair_ladder_depth" env:"PLANNER_REPAIR_LADDER_DEPTH" env-default:"5"`
	RepairRadiusExpand   float64 `yaml:"repair_radius_expand" env:"PLANNER_REPAIR_RADIUS_EXPAND" env-default:"0.25"`
}

type TravelTimeConfig struct {
	Profile           string  `yaml:"profile" env:"TRAVEL_TIME_PROFILE" env-default:"driving"`
	PeakMultiplier    float64 `yaml:"peak_multiplier" env:"TRAVEL_TIME_PEAK_MULTIPLIER" env-default:"1.0"`
	CacheTTLHours     int     `yaml:"cache_ttl_hours" env:"TRAVEL_TIME_CACHE_TTL_HOURS" env-default:"168"`
	MemoryCacheSize   int     `yaml:"memory_cache_size" env:"TRAVEL_TIME_MEMORY_CACHE_SIZE" env-default:"2000"`
	MaxRetries        int     `yaml:"max_retries" env:"TRAVEL_TIME_MAX_RETRIES" env-default:"3"`
	BaseBackoffMS     int     `yaml:"base_backoff_ms" env:"TRAVEL_TIME_BASE_BACKOFF_MS" env-default:"100"`
	RateLimitPerSec   float64 `yaml:"rate_limit_per_sec" env:"TRAVEL_TIME_RATE_LIMIT" env-default:"10"`
	FallbackSpeedMPS  float64 `yaml:"fallback_speed_mps" env:"TRAVEL_TIME_FALLBACK_SPEED_MPS" env-default:"8.33"`
	FallbackInflation float64 `yaml:"fallback_inflation" env:"TRAVEL_TIME_FALLBACK_INFLATION" env-default:"1.3"`
}

// CacheTTL returns the persistent cache TTL as a duration.
func (c TravelTimeConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

type OrchestratorConfig struct {
	TurnDeadlineSec    int `yaml:"turn_deadline_sec" env:"ORCH_TURN_DEADLINE_SEC" env-default:"20"`
	ExtractTimeoutSec  int `yaml:"extract_timeout_sec" env:"ORCH_EXTRACT_TIMEOUT_SEC" env-default:"5"`
	MaxDayCount        int `yaml:"max_day_count" env:"ORCH_MAX_DAY_COUNT" env-default:"14"`
	MaxFeedbackHistory int `yaml:"max_feedback_history" env:"ORCH_MAX_FEEDBACK_HISTORY" env-default:"50"`
}

// TurnDeadline returns the whole-turn deadline as a duration.
func (c OrchestratorConfig) TurnDeadline() time.Duration {
	return time.Duration(c.TurnDeadlineSec) * time.Second
}

type ServerConfig struct {
	Port int `yaml:"port" env:"PORT" env-default:"8000"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"DB_SQLITE_PATH" env-default:"planner.db"`
	Host       string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port       int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User       string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password   string `yaml:"password" env:"DB_PASSWORD"`
	DBName     string `yaml:"dbname" env:"DB_NAME" env-default:"tripcraft"`
	SSLMode    string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
}

// DSN renders the postgres connection string; unused for sqlite.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Load reads configuration from config.yaml and environment variables
// Priority: Env Vars > Config File > Defaults
func Load() (*Config, error) {
	var cfg Config

	// Read config.yaml if present, then override with envs.
	err := cleanenv.ReadConfig("config.yaml", &cfg)
	if err != nil {
		// If file doesn't exist, just read env vars
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
	}

	return &cfg, nil
}
