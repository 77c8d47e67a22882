package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration for the medflow pipeline.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Tracing TracingConfig
	Watch   WatchConfig
	Import  ImportConfig
	Polling PollingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"medflow-pipeline"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"HTTP_MAX_UPLOAD_MB" envDefault:"2048"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	CompletionTopic  string        `env:"KAFKA_COMPLETION_TOPIC" envDefault:"medflow.imports.completed"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"medflow-artifacts"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=medflow"`
}

// WatchConfig controls the filesystem dispatcher.
type WatchConfig struct {
	VideoInbox          string        `env:"WATCH_VIDEO_INBOX" envDefault:"data/raw_videos"`
	DocumentInbox       string        `env:"WATCH_DOCUMENT_INBOX" envDefault:"data/raw_documents"`
	Workers             int           `env:"WATCH_WORKERS" envDefault:"2"`
	QueueSize           int           `env:"WATCH_QUEUE_SIZE" envDefault:"64"`
	StabilityInterval   time.Duration `env:"WATCH_STABILITY_INTERVAL" envDefault:"1s"`
	StabilityChecks     int           `env:"WATCH_STABILITY_CHECKS" envDefault:"3"`
	StabilityTimeout    time.Duration `env:"WATCH_STABILITY_TIMEOUT" envDefault:"30s"`
	HealthCheckInterval time.Duration `env:"WATCH_HEALTH_INTERVAL" envDefault:"10s"`
}

// ImportConfig controls the import and anonymization flow.
type ImportConfig struct {
	StorageRoot          string `env:"IMPORT_STORAGE_ROOT" envDefault:"data"`
	CenterID             string `env:"IMPORT_CENTER_ID" envDefault:"university_hospital_wuerzburg"`
	MinFreeBytes         int64  `env:"IMPORT_MIN_FREE_BYTES" envDefault:"104857600"`
	TextLayerMinChars    int    `env:"IMPORT_TEXT_LAYER_MIN_CHARS" envDefault:"50"`
	FrameSampleFPS       int    `env:"IMPORT_FRAME_SAMPLE_FPS" envDefault:"1"`
	SegmentationModel    string `env:"IMPORT_SEGMENTATION_MODEL" envDefault:"image_multilabel_classification_colonoscopy_default"`
	DeleteSourceOnImport bool   `env:"IMPORT_DELETE_SOURCE" envDefault:"false"`
}

type PollingConfig struct {
	Cooldown      time.Duration `env:"POLLING_COOLDOWN" envDefault:"10s"`
	SweepInterval time.Duration `env:"POLLING_SWEEP_INTERVAL" envDefault:"5m"`
}

// Load reads an optional .env file and parses environment variables into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
