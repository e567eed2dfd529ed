// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Crawler, Chunking, NLP, Vector,
// NewsAPI, Ingestion, Dispatch, Scheduler, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	NLP       NLPConfig       `yaml:"nlp"`
	Vector    VectorConfig    `yaml:"vector"`
	NewsAPI   NewsAPIConfig   `yaml:"newsapi"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Search    SearchConfig    `yaml:"search"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IngestionTasks string `yaml:"ingestionTasks"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CrawlerConfig controls article fetching and content extraction.
type CrawlerConfig struct {
	UserAgent     string        `yaml:"userAgent"`
	Timeout       time.Duration `yaml:"timeout"`
	RobotsTimeout time.Duration `yaml:"robotsTimeout"`
	RobotsTTL     time.Duration `yaml:"robotsTTL"`
	MaxBodyBytes  int64         `yaml:"maxBodyBytes"`
	MinTextChars  int           `yaml:"minTextChars"`
	MinParagraphs int           `yaml:"minParagraphs"`
}

// ChunkingConfig controls sentence chunking behaviour.
type ChunkingConfig struct {
	UseSemantic          bool    `yaml:"useSemantic"`
	SimilarityThreshold  float64 `yaml:"similarityThreshold"`
	MinSentences         int     `yaml:"minSentences"`
	MaxSentences         int     `yaml:"maxSentences"`
	MaxTokens            int     `yaml:"maxTokens"`
	OverlapSentences     int     `yaml:"overlapSentences"`
	SemanticMinSentences int     `yaml:"semanticMinSentences"`
}

// NLPConfig holds the NLP service endpoint and batching limits.
type NLPConfig struct {
	BaseURL                string        `yaml:"baseUrl"`
	Timeout                time.Duration `yaml:"timeout"`
	MaxTextsPerRequest     int           `yaml:"maxTextsPerRequest"`
	MaxSentencesPerRequest int           `yaml:"maxSentencesPerRequest"`
	RetryMaxAttempts       int           `yaml:"retryMaxAttempts"`
	RetryInitialBackoff    time.Duration `yaml:"retryInitialBackoff"`
	RetryMaxBackoff        time.Duration `yaml:"retryMaxBackoff"`
}

// VectorConfig holds the vector store endpoint and query limits.
type VectorConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	Timeout           time.Duration `yaml:"timeout"`
	ArticleChunkLimit int           `yaml:"articleChunkLimit"`
}

// NewsAPIConfig controls the news-search API fetcher's shared request budget.
type NewsAPIConfig struct {
	BaseURL                 string `yaml:"baseUrl"`
	APIKey                  string `yaml:"apiKey"`
	SortBy                  string `yaml:"sortBy"`
	PageSize                int    `yaml:"pageSize"`
	MaxSourcesPerRequest    int    `yaml:"maxSourcesPerRequest"`
	MaxPagesPerBatch        int    `yaml:"maxPagesPerBatch"`
	MaxRequestsPerIngestion int    `yaml:"maxRequestsPerIngestion"`
}

// IngestionConfig controls run orchestration timing and endpoint blocking.
type IngestionConfig struct {
	RunTimeout       time.Duration `yaml:"runTimeout"`
	TaskLeaseSeconds int64         `yaml:"taskLeaseSeconds"`
	BlockThreshold   int           `yaml:"blockThreshold"`
	BlockDuration    time.Duration `yaml:"blockDuration"`
}

// SearchConfig controls the internal article search endpoint.
type SearchConfig struct {
	EmbeddingDimension int           `yaml:"embeddingDimension"`
	DefaultLimit       int           `yaml:"defaultLimit"`
	DefaultMinScore    float64       `yaml:"defaultMinScore"`
	CacheTTL           time.Duration `yaml:"cacheTtl"`
}

// DispatchConfig selects the task-delivery strategy: "kafka" publishes tasks
// to the ingestion topic for the consumer loop, "http" posts them directly to
// the task endpoint.
type DispatchConfig struct {
	Mode      string        `yaml:"mode"`
	TargetURL string        `yaml:"targetUrl"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SchedulerConfig controls the periodic ingestion trigger.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	RunCron string `yaml:"runCron"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "factcheck",
			User:            "factcheck",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "collector-group",
			Topics: KafkaTopics{
				IngestionTasks: "ingestion-tasks",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Crawler: CrawlerConfig{
			UserAgent:     "FactCheckCollector/1.0 (+https://example.com)",
			Timeout:       10 * time.Second,
			RobotsTimeout: 5 * time.Second,
			RobotsTTL:     12 * time.Hour,
			MaxBodyBytes:  2 << 20,
			MinTextChars:  1500,
			MinParagraphs: 5,
		},
		Chunking: ChunkingConfig{
			UseSemantic:          true,
			SimilarityThreshold:  0.65,
			MinSentences:         2,
			MaxSentences:         8,
			MaxTokens:            400,
			OverlapSentences:     1,
			SemanticMinSentences: 10,
		},
		NLP: NLPConfig{
			BaseURL:                "http://localhost:8000",
			Timeout:                30 * time.Second,
			MaxTextsPerRequest:     100,
			MaxSentencesPerRequest: 100,
			RetryMaxAttempts:       3,
			RetryInitialBackoff:    500 * time.Millisecond,
			RetryMaxBackoff:        5 * time.Second,
		},
		Vector: VectorConfig{
			BaseURL:           "http://localhost:8080",
			Timeout:           20 * time.Second,
			ArticleChunkLimit: 512,
		},
		NewsAPI: NewsAPIConfig{
			BaseURL:                 "https://newsapi.org/v2",
			SortBy:                  "publishedAt",
			PageSize:                100,
			MaxSourcesPerRequest:    20,
			MaxPagesPerBatch:        5,
			MaxRequestsPerIngestion: 100,
		},
		Ingestion: IngestionConfig{
			RunTimeout:       6 * time.Hour,
			TaskLeaseSeconds: 1800,
			BlockThreshold:   2,
			BlockDuration:    24 * time.Hour,
		},
		Search: SearchConfig{
			EmbeddingDimension: 768,
			DefaultLimit:       10,
			DefaultMinScore:    0.7,
			CacheTTL:           5 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Mode:      "http",
			TargetURL: "http://localhost:8081/ingestion/task",
			Timeout:   10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			RunCron: "0 */6 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FC_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FC_NEWSAPI_KEY"); v != "" {
		cfg.NewsAPI.APIKey = v
	}
	if v := os.Getenv("FC_NLP_BASE_URL"); v != "" {
		cfg.NLP.BaseURL = v
	}
	if v := os.Getenv("FC_VECTOR_BASE_URL"); v != "" {
		cfg.Vector.BaseURL = v
	}
	if v := os.Getenv("FC_DISPATCH_MODE"); v != "" {
		cfg.Dispatch.Mode = v
	}
	if v := os.Getenv("FC_DISPATCH_TARGET_URL"); v != "" {
		cfg.Dispatch.TargetURL = v
	}
	if v := os.Getenv("FC_DISPATCH_AUTH_TOKEN"); v != "" {
		cfg.Dispatch.AuthToken = v
	}
	if v := os.Getenv("FC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
