package config

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                 string             `mapstructure:"env"`
	LogLevel            string             `mapstructure:"log_level"`
	LogType             string             `mapstructure:"log_type"`
	ServiceName         string             `mapstructure:"service_name"`
	Port                string             `mapstructure:"port"`
	Version             string             `mapstructure:"version"`
	Whitelist           []string           `mapstructure:"whitelist"`
	CoordinatorSettings *CoordinatorConfig `mapstructure:"coordinator"`
	PayloadSettings     *PayloadConfig     `mapstructure:"payload"`
	ClassifierSettings  *ClassifierConfig  `mapstructure:"classifier"`
	CredentialSettings  *CredentialConfig  `mapstructure:"credential"`
	ApiSettings         *ApiConfig         `mapstructure:"api"`
	WorkerSettings      *WorkerConfig      `mapstructure:"worker"`
	CacheSettings       *CacheConfig       `mapstructure:"cache"`
	DbSettings          *DatabaseConfig    `mapstructure:"database"`
	SQSSettings         *SQSConfig         `mapstructure:"sqs"`
	KafkaSettings       *KafkaConfig       `mapstructure:"kafka"`
	TelemetrySettings   *TelemetryConfig   `mapstructure:"telemetry"`
}

type CoordinatorConfig struct {
	CacheTTL                 time.Duration `mapstructure:"cache_ttl"`
	ClassificationTimeout    time.Duration `mapstructure:"classification_timeout"`
	NotificationExplainLimit int           `mapstructure:"notification_explain_limit"`
}

type PayloadConfig struct {
	TitleLimit       int `mapstructure:"title_limit"`
	VisibleTextLimit int `mapstructure:"visible_text_limit"`
	HtmlSnippetLimit int `mapstructure:"html_snippet_limit"`
	ItemLimit        int `mapstructure:"item_limit"`
	MaxScripts       int `mapstructure:"max_scripts"`
	MaxForms         int `mapstructure:"max_forms"`
	MaxIframes       int `mapstructure:"max_iframes"`
	MaxLinks         int `mapstructure:"max_links"`
	TotalLimit       int `mapstructure:"total_limit"`
}

type ClassifierConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequestsLimit  int           `mapstructure:"requests_limit"`
	TimeInterval   time.Duration `mapstructure:"time_interval"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type CredentialConfig struct {
	// Empty means $XDG_CONFIG_HOME/<service_name>/api_key.
	FilePath string `mapstructure:"file_path"`
}

type ApiConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	HistoryLimit   int      `mapstructure:"history_limit"`
}

type WorkerConfig struct {
	WorkersNum int `mapstructure:"workers_num"`
}

type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Servers         []string      `mapstructure:"servers"`
	Threshold       uint64        `mapstructure:"threshold"`
	TtlForThreshold time.Duration `mapstructure:"ttl_for_threshold"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type SQSConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	AwsBaseEndpoint     string `mapstructure:"aws_base_endpoint"`
	Region              string `mapstructure:"region"`
	QueueName           string `mapstructure:"queue_name"`
	MaxNumberOfMessages int32  `mapstructure:"max_number_of_messages"`
	WaitTimeSeconds     int32  `mapstructure:"wait_time_seconds"`
	VisibilityTimeout   int32  `mapstructure:"visibility_timeout"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Producer *ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

// DefaultWhitelist is used when the config does not list trusted domains.
var DefaultWhitelist = []string{
	"google.com",
	"github.com",
	"microsoft.com",
	"apple.com",
	"amazon.com",
	"wikipedia.org",
	"youtube.com",
	"stackoverflow.com",
	"mozilla.org",
	"linkedin.com",
}

func MustLoad() *Config {
	cfg, err := Load(path.Join("."))
	if err != nil {
		slog.Error("can't initialize config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return cfg
}

// Load reads config.yaml from dir (when present) on top of the defaults and
// lets environment variables override any key, e.g. CLASSIFIER_MODEL.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		slog.Warn("config file not found. Using defaults.", slog.String("dir", dir))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Whitelist) == 0 {
		cfg.Whitelist = DefaultWhitelist
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "page-guard")
	v.SetDefault("port", "8765")
	v.SetDefault("version", "dev")
	v.SetDefault("whitelist", DefaultWhitelist)

	v.SetDefault("coordinator.cache_ttl", 3*time.Minute)
	v.SetDefault("coordinator.classification_timeout", 45*time.Second)
	v.SetDefault("coordinator.notification_explain_limit", 120)

	v.SetDefault("payload.title_limit", 200)
	v.SetDefault("payload.visible_text_limit", 4000)
	v.SetDefault("payload.html_snippet_limit", 6000)
	v.SetDefault("payload.item_limit", 512)
	v.SetDefault("payload.max_scripts", 25)
	v.SetDefault("payload.max_forms", 10)
	v.SetDefault("payload.max_iframes", 10)
	v.SetDefault("payload.max_links", 40)
	v.SetDefault("payload.total_limit", 15000)

	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.temperature", 0.1)
	v.SetDefault("classifier.max_tokens", 400)
	v.SetDefault("classifier.request_timeout", 30*time.Second)
	v.SetDefault("classifier.requests_limit", 10)
	v.SetDefault("classifier.time_interval", 6*time.Second)
	v.SetDefault("classifier.user_agent", "page-guard/1.0")

	v.SetDefault("credential.file_path", "")

	v.SetDefault("api.allowed_origins", []string{"chrome-extension://*", "moz-extension://*"})
	v.SetDefault("api.history_limit", 20)

	v.SetDefault("worker.workers_num", 2)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.servers", []string{"localhost:11211"})
	v.SetDefault("cache.threshold", 30)
	v.SetDefault("cache.ttl_for_threshold", time.Hour)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.conn_max_lifetime", 10*time.Minute)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)

	v.SetDefault("sqs.enabled", false)
	v.SetDefault("sqs.max_number_of_messages", 10)
	v.SetDefault("sqs.wait_time_seconds", 20)
	v.SetDefault("sqs.visibility_timeout", 30)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 50)
	v.SetDefault("kafka.producer.batch_timeout", time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)

	v.SetDefault("telemetry.enabled", false)
}
