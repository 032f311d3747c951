package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Logging struct {
		Level          string        `yaml:"level" default:"info"`
		Format         string        `yaml:"format" default:"console"`
		Output         string        `yaml:"output" default:"stdout"`
		Collect        bool          `yaml:"collect"`
		CollectorTopic string        `yaml:"collector_topic" default:"signalfuse.logs"`
		FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
		FlushThreshold int           `yaml:"flush_threshold" default:"100"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxConns        int32         `yaml:"max_conns" default:"25"`
		MinConns        int32         `yaml:"min_conns" default:"5"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" default:"1h"`
		MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" default:"30m"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalfuse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled           bool     `yaml:"enabled"`
		Brokers           []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		DecisionsTopic    string   `yaml:"decisions_topic" default:"signalfuse.decisions"`
		ClosedTradesTopic string   `yaml:"closed_trades_topic" default:"signalfuse.closed_trades"`
		SignalsTopic      string   `yaml:"signals_topic" default:"signalfuse.signals"`
		RequiredAcks      int      `yaml:"required_acks" default:"-1"`
		Compression       string   `yaml:"compression" default:"snappy"`
		Producer          struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"signalfuse"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"signalfuse.signals.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"signalfuse"`
	} `yaml:"redis"`
	Binance struct {
		BaseURL        string        `yaml:"base_url" default:"https://fapi.binance.com"`
		StreamURL      string        `yaml:"stream_url" default:"wss://fstream.binance.com/stream"`
		APIKey         string        `yaml:"api_key"`
		SecretKey      string        `yaml:"secret_key"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		RequestsPerMin int           `yaml:"requests_per_min" default:"1200"`
		StreamEnabled  bool          `yaml:"stream_enabled"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PriceTTL       time.Duration `yaml:"price_ttl" default:"3s"`
		DryRun         bool          `yaml:"dry_run" default:"true"`
	} `yaml:"binance"`
	ModelService struct {
		URL     string        `yaml:"url" default:"http://localhost:8000"`
		Timeout time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"model_service"`
	Advisor struct {
		Enabled bool          `yaml:"enabled"`
		BaseURL string        `yaml:"base_url" default:"https://api.openai.com/v1"`
		APIKey  string        `yaml:"api_key"`
		Model   string        `yaml:"model" default:"gpt-4o-mini"`
		Timeout time.Duration `yaml:"timeout" default:"20s"`
	} `yaml:"advisor"`
	Telegram struct {
		Enabled bool          `yaml:"enabled"`
		BaseURL string        `yaml:"base_url" default:"https://api.telegram.org"`
		Token   string        `yaml:"token"`
		ChatID  string        `yaml:"chat_id"`
		Timeout time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"telegram"`
	Trading struct {
		Symbols             []string `yaml:"symbols" default:"[\"BTCUSDT\"]"`
		ConfidenceThreshold float64  `yaml:"confidence_threshold" default:"0.6"`
		BlockOnManipulation bool     `yaml:"block_on_manipulation"`
	} `yaml:"trading"`
	Risk struct {
		BaseQuantity       float64 `yaml:"base_quantity" default:"0.01"`
		ConfidenceCoef     float64 `yaml:"confidence_coef" default:"0.5"`
		SentimentCoef      float64 `yaml:"sentiment_coef" default:"0.2"`
		LiquidityCoef      float64 `yaml:"liquidity_coef" default:"0.3"`
		VolatilityInterval string  `yaml:"volatility_interval" default:"1h"`
		VolatilityWindow   int     `yaml:"volatility_window" default:"20"`
		HistoryCapacity    int     `yaml:"history_capacity" default:"100"`
	} `yaml:"risk"`
	RL struct {
		Alpha   float64 `yaml:"alpha" default:"0.1"`
		Gamma   float64 `yaml:"gamma" default:"0.95"`
		Epsilon float64 `yaml:"epsilon" default:"0.2"`
	} `yaml:"rl"`
	Monitor struct {
		PollInterval    time.Duration `yaml:"poll_interval" default:"5s"`
		MaxFetchRetries int           `yaml:"max_fetch_retries" default:"5"`
		BackoffMin      time.Duration `yaml:"backoff_min" default:"500ms"`
		BackoffMax      time.Duration `yaml:"backoff_max" default:"10s"`
		OnFailure       string        `yaml:"on_failure" default:"alert"`
	} `yaml:"monitor"`
	Weights struct {
		MinSamples int `yaml:"min_samples" default:"10"`
	} `yaml:"weights"`
	Evaluator struct {
		MatchWindow time.Duration `yaml:"match_window" default:"10m"`
		Lookback    time.Duration `yaml:"lookback" default:"168h"`
	} `yaml:"evaluator"`
	Scheduler struct {
		CycleInterval      time.Duration `yaml:"cycle_interval" default:"1m"`
		EvaluationInterval time.Duration `yaml:"evaluation_interval" default:"1h"`
		RetrainInterval    time.Duration `yaml:"retrain_interval" default:"6h"`
	} `yaml:"scheduler"`
	State struct {
		Backend    string `yaml:"backend" default:"file"`
		WeightsKey string `yaml:"weights_key" default:"weights_config.json"`
		QTableKey  string `yaml:"qtable_key" default:"q_table.json"`
		Dir        string `yaml:"dir" default:"./data"`
	} `yaml:"state"`
	Queue struct {
		Enabled      bool          `yaml:"enabled"`
		Name         string        `yaml:"name" default:"signalfuse"`
		Workers      int           `yaml:"workers" default:"2"`
		MaxRetries   int           `yaml:"max_retries" default:"3"`
		PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
	} `yaml:"queue"`
}

// Load reads and parses a YAML configuration file. Unset fields take the
// values of their default tags.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then applies
// environment overrides for secrets and endpoints.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.Binance.SecretKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Advisor.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Trading.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		c.ModelService.URL = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Binance.DryRun = b
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols cannot be empty")
	}
	if c.Trading.ConfidenceThreshold < 0 || c.Trading.ConfidenceThreshold > 1 {
		return fmt.Errorf("trading.confidence_threshold must be in [0,1], got %v", c.Trading.ConfidenceThreshold)
	}
	if c.Risk.BaseQuantity <= 0 {
		return fmt.Errorf("risk.base_quantity must be positive")
	}
	if c.Risk.VolatilityWindow < 1 {
		return fmt.Errorf("risk.volatility_window must be at least 1")
	}
	if c.RL.Alpha <= 0 || c.RL.Alpha > 1 {
		return fmt.Errorf("rl.alpha must be in (0,1], got %v", c.RL.Alpha)
	}
	if c.RL.Gamma < 0 || c.RL.Gamma > 1 {
		return fmt.Errorf("rl.gamma must be in [0,1], got %v", c.RL.Gamma)
	}
	if c.RL.Epsilon < 0 || c.RL.Epsilon > 1 {
		return fmt.Errorf("rl.epsilon must be in [0,1], got %v", c.RL.Epsilon)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.OnFailure != "alert" && c.Monitor.OnFailure != "flatten" {
		return fmt.Errorf("monitor.on_failure must be 'alert' or 'flatten', got '%s'", c.Monitor.OnFailure)
	}
	if c.State.Backend != "file" && c.State.Backend != "redis" {
		return fmt.Errorf("state.backend must be 'file' or 'redis', got '%s'", c.State.Backend)
	}
	if c.State.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("state.backend 'redis' requires redis.enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" {
		return fmt.Errorf("advisor.api_key is required when the advisor is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
