package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Minio      MinioConfig
	Milvus     MilvusConfig
	OpenAI     OpenAIConfig
	OCR        OCRConfig
	Upload     UploadConfig
	Pipeline   PipelineConfig
	Extraction ExtractionConfig
	Search     SearchConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type OCRConfig struct {
	Endpoint   string
	TimeoutSec int
}

type UploadConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
}

type PipelineConfig struct {
	Workers      int
	MaxAttempts  int
	BaseDelaySec int
	MaxDelaySec  int
	JobTimeoutSec int
}

type ExtractionConfig struct {
	MinTextChars int
}

type SearchConfig struct {
	MaxPageSize   int
	CandidatePool int
	LexicalWeight float64
	VectorWeight  float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/docuflow")

	viper.SetEnvPrefix("DOCUFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Pipeline.JobTimeoutSec) * time.Second
}

// LeaseDuration is the staleness threshold for worker claims: a crashed
// worker's job is reclaimable once its full retry budget of time has passed.
func (c *Config) LeaseDuration() time.Duration {
	return c.JobTimeout() * time.Duration(c.Pipeline.MaxAttempts)
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 52428800)

	viper.SetDefault("sqlite.path", "./data/docuflow.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.accessKey", "minioadmin")
	viper.SetDefault("minio.secretKey", "minioadmin123")
	viper.SetDefault("minio.bucket", "docuflow-documents")
	viper.SetDefault("minio.useSSL", false)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "documents")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("openai.model", "gpt-4-turbo-preview")
	viper.SetDefault("openai.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("openai.temperature", 0.2)
	viper.SetDefault("openai.maxTokens", 1500)
	viper.SetDefault("openai.timeoutSec", 60)

	viper.SetDefault("ocr.endpoint", "http://localhost:8884")
	viper.SetDefault("ocr.timeoutSec", 120)

	viper.SetDefault("upload.maxFileSize", 52428800)
	viper.SetDefault("upload.allowedTypes", []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"message/rfc822",
	})

	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.maxAttempts", 3)
	viper.SetDefault("pipeline.baseDelaySec", 5)
	viper.SetDefault("pipeline.maxDelaySec", 300)
	viper.SetDefault("pipeline.jobTimeoutSec", 300)

	viper.SetDefault("extraction.minTextChars", 32)

	viper.SetDefault("search.maxPageSize", 100)
	viper.SetDefault("search.candidatePool", 256)
	viper.SetDefault("search.lexicalWeight", 0.5)
	viper.SetDefault("search.vectorWeight", 0.5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
