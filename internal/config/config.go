// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transition policies for declared model steps.
const (
	TransitionsPermissive = "permissive"
	TransitionsStrict     = "strict"
)

// Remediation backends.
const (
	CodexModeLocal  = "local"
	CodexModeHTTP   = "http"
	CodexModeDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	LogLevel     string
	RunRetention time.Duration

	OpenAI    OpenAIConfig
	Agent     AgentConfig
	Stream    StreamConfig
	Jira      JiraConfig
	Git       GitConfig
	Codex     CodexConfig
	WebSearch WebSearchConfig
	RAG       RAGConfig
	RateLimit RateLimitConfig
	EventLog  EventLogConfig
}

// OpenAIConfig configures the completion and embedding collaborators.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxRetries     int
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxIterations     int
	Transitions       string
	CompletionTimeout time.Duration
	ToolTimeout       time.Duration
}

// StreamConfig controls token pacing.
type StreamConfig struct {
	DelayMean   time.Duration
	DelayStdDev time.Duration
	DelayFloor  time.Duration
}

// JiraConfig configures the issue tracker client.
type JiraConfig struct {
	BaseURL    string
	Email      string
	APIToken   string
	ReproField string
}

// GitConfig configures repository sync.
type GitConfig struct {
	RepoRoot      string
	DefaultBranch string
}

// CodexConfig configures the remediation runner.
type CodexConfig struct {
	Mode        string
	Binary      string
	ServiceURL  string
	ProjectPath string
	Container   string
	OutputLimit int
}

// WebSearchConfig configures the web search tool.
type WebSearchConfig struct {
	URL        string
	MaxResults int
}

// RAGConfig configures similar-issue retrieval.
type RAGConfig struct {
	Threshold float64
	TopK      int
}

// RateLimitConfig limits user messages per connection.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// EventLogConfig controls NDJSON logging of outbound events.
type EventLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/bugfix.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RunRetention: getEnvDuration("RUN_RETENTION", 7*24*time.Hour),
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-5"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			Temperature:    getEnvFloat("OPENAI_TEMPERATURE", 0.4),
			MaxRetries:     getEnvInt("COMPLETION_MAX_RETRIES", 3),
		},
		Agent: AgentConfig{
			MaxIterations:     getEnvInt("BUGFIX_AGENT_MAX_ITERS", 12),
			Transitions:       strings.ToLower(getEnv("AGENT_TRANSITIONS", TransitionsPermissive)),
			CompletionTimeout: getEnvDuration("COMPLETION_TIMEOUT", 3*time.Minute),
			ToolTimeout:       getEnvDuration("TOOL_TIMEOUT", 10*time.Minute),
		},
		Stream: StreamConfig{
			DelayMean:   getEnvDuration("STREAM_DELAY_MEAN", 80*time.Millisecond),
			DelayStdDev: getEnvDuration("STREAM_DELAY_STDDEV", 40*time.Millisecond),
			DelayFloor:  getEnvDuration("STREAM_DELAY_FLOOR", 20*time.Millisecond),
		},
		Jira: JiraConfig{
			BaseURL:    getEnv("JIRA_BASE_URL", ""),
			Email:      getEnv("JIRA_EMAIL", ""),
			APIToken:   getEnv("JIRA_API_TOKEN", ""),
			ReproField: getEnv("JIRA_REPRO_FIELD", "customfield_10076"),
		},
		Git: GitConfig{
			RepoRoot:      getEnv("GIT_REPO_ROOT", "./data/workspace"),
			DefaultBranch: getEnv("GIT_DEFAULT_BRANCH", "main"),
		},
		Codex: CodexConfig{
			Mode:        strings.ToLower(getEnv("CODEX_MODE", CodexModeLocal)),
			Binary:      getEnv("CODEX_BIN", "codex"),
			ServiceURL:  getEnv("CODEX_SERVICE_URL", ""),
			ProjectPath: getEnv("CODEX_PROJECT_PATH", getEnv("GIT_REPO_ROOT", "./data/workspace")),
			Container:   getEnv("CODEX_CONTAINER", ""),
			OutputLimit: getEnvInt("CODEX_OUTPUT_LIMIT", 256*1024),
		},
		WebSearch: WebSearchConfig{
			URL:        getEnv("WEB_SEARCH_URL", "https://html.duckduckgo.com/html/"),
			MaxResults: getEnvInt("WEB_SEARCH_MAX_RESULTS", 5),
		},
		RAG: RAGConfig{
			Threshold: getEnvFloat("RAG_THRESHOLD", 0.5),
			TopK:      getEnvInt("RAG_TOP_K", 5),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
			Burst:     getEnvInt("RATE_LIMIT_BURST", 3),
		},
		EventLog: EventLogConfig{
			Enabled:   getEnvBool("EVENT_LOG_ENABLED", false),
			Dir:       getEnv("EVENT_LOG_DIR", "./data/logs/events"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("BUGFIX_AGENT_MAX_ITERS must be > 0")
	}
	switch c.Agent.Transitions {
	case TransitionsPermissive, TransitionsStrict:
	default:
		return fmt.Errorf("AGENT_TRANSITIONS must be %q or %q", TransitionsPermissive, TransitionsStrict)
	}
	if c.Agent.CompletionTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT and TOOL_TIMEOUT must be > 0")
	}
	if c.Stream.DelayFloor < 0 || c.Stream.DelayStdDev < 0 {
		return fmt.Errorf("stream delays cannot be negative")
	}
	switch c.Codex.Mode {
	case CodexModeLocal:
	case CodexModeHTTP:
		if c.Codex.ServiceURL == "" {
			return fmt.Errorf("CODEX_SERVICE_URL is required when CODEX_MODE=http")
		}
	case CodexModeDocker:
		if c.Codex.Container == "" {
			return fmt.Errorf("CODEX_CONTAINER is required when CODEX_MODE=docker")
		}
	default:
		return fmt.Errorf("unknown CODEX_MODE %q", c.Codex.Mode)
	}
	if c.RAG.Threshold < 0 || c.RAG.Threshold > 1 {
		return fmt.Errorf("RAG_THRESHOLD must be within [0, 1]")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be > 0")
	}
	if c.EventLog.Enabled && c.EventLog.Dir == "" {
		return fmt.Errorf("EVENT_LOG_DIR cannot be empty")
	}
	if c.EventLog.QueueSize <= 0 {
		return fmt.Errorf("EVENT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the origins accepted by CORS and the websocket upgrade.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// WebSocketOriginPatterns returns the host patterns accepted by the agent
// WebSocket upgrade. Same-host requests are always accepted.
func (c *Config) WebSocketOriginPatterns() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(c.FrontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("250ms") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
