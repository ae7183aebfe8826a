package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MEMORI_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MEMORI_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func DatabaseURI() string {
	uri := os.Getenv("MEMORI_DATABASE_URI")
	if uri == "" {
		return "sqlite://memori.db"
	}
	return uri
}

func Namespace() string {
	ns := os.Getenv("MEMORI_NAMESPACE")
	if ns == "" {
		return "default"
	}
	return ns
}

func ConsciousMode() bool {
	return boolEnv("MEMORI_CONSCIOUS_INGEST", false)
}

func AutoMode() bool {
	return boolEnv("MEMORI_AUTO_INGEST", false)
}

func Verbose() bool {
	return boolEnv("MEMORI_VERBOSE", false)
}

func SchemaInit() bool {
	return boolEnv("MEMORI_SCHEMA_INIT", true)
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// AnalysisProvider returns the configured analysis-LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func AnalysisProvider() string {
	p := os.Getenv("MEMORI_ANALYSIS_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func AnalysisModel() string {
	return os.Getenv("MEMORI_ANALYSIS_MODEL")
}

// AnalysisAPIKey returns the API key for the configured analysis provider.
func AnalysisAPIKey() string {
	if key := os.Getenv("MEMORI_ANALYSIS_API_KEY"); key != "" {
		return key
	}
	switch AnalysisProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// MinImportance returns the namespace-level importance filter threshold.
// Defaults to 0 (store everything).
func MinImportance() float64 {
	v, err := strconv.ParseFloat(os.Getenv("MEMORI_MIN_IMPORTANCE"), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// PipelineWorkers returns the extraction worker count.
// Defaults to 2 if not set.
func PipelineWorkers() int {
	n, err := strconv.Atoi(os.Getenv("MEMORI_PIPELINE_WORKERS"))
	if err != nil || n <= 0 {
		return 2
	}
	return n
}

// PipelineQueueSize returns the extraction queue bound.
// Defaults to 64 if not set.
func PipelineQueueSize() int {
	n, err := strconv.Atoi(os.Getenv("MEMORI_PIPELINE_QUEUE"))
	if err != nil || n <= 0 {
		return 64
	}
	return n
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("MEMORI_SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// RateLimitRPS returns requests per second limit for the HTTP facade.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("MEMORI_RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("MEMORI_RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("MEMORI_LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
