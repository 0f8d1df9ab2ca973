package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"dev" validate:"required"`

	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Arena struct {
		Symbols        []string      `yaml:"symbols" validate:"min=1"`
		Benchmark      string        `yaml:"benchmark" default:"BTC"`
		TickInterval   time.Duration `yaml:"tick_interval" default:"3s"`
		StartingCash   float64       `yaml:"starting_cash" default:"100000"`
		FeeRate        float64       `yaml:"fee_rate" default:"0.00075"`
		SlippageMinBps float64       `yaml:"slippage_min_bps" default:"1"`
		SlippageMaxBps float64       `yaml:"slippage_max_bps" default:"5"`
		MaxLeverage    float64       `yaml:"max_leverage" default:"4"`
		CashoutROI     float64       `yaml:"cashout_roi" default:"0.5"`
		EmergencyStop  float64       `yaml:"emergency_stop_drawdown" default:"0.02"`
	} `yaml:"arena"`

	Sandbox struct {
		ExecBudget     time.Duration `yaml:"exec_budget" default:"250ms"`
		OrderLimit     int           `yaml:"order_limit" default:"5"`
		OrderWindow    time.Duration `yaml:"order_window" default:"60s"`
		MaxRules       int           `yaml:"max_rules" default:"32"`
		MaxHistoryView int           `yaml:"max_history_view" default:"200"`
	} `yaml:"sandbox"`

	Supervisor struct {
		Interval         time.Duration `yaml:"interval" default:"5m"`
		DrawdownLimit    float64       `yaml:"drawdown_limit" default:"0.03"`
		ATRRatio         float64       `yaml:"atr_ratio" default:"2.0"`
		VolumeRatio      float64       `yaml:"volume_ratio" default:"5.0"`
		NewsMinorScore   float64       `yaml:"news_minor_score" default:"0.3"`
		NewsCatastrophic float64       `yaml:"news_catastrophic_score" default:"0.8"`
		EquityWindow     time.Duration `yaml:"equity_window" default:"5m"`
		BaselineWindow   time.Duration `yaml:"baseline_window" default:"1h"`
		RecentWindow     time.Duration `yaml:"recent_window" default:"5m"`
	} `yaml:"supervisor"`

	Regeneration struct {
		FaultBudget int           `yaml:"fault_budget" default:"3"`
		MaxAttempts int           `yaml:"max_attempts" default:"2"`
		Timeout     time.Duration `yaml:"timeout" default:"90s"`
		Workers     int           `yaml:"workers" default:"2"`
		Models      []string      `yaml:"models"`
	} `yaml:"regeneration"`

	Generator struct {
		BaseURL     string        `yaml:"base_url" default:"https://openrouter.ai/api/v1"`
		APIKey      string        `yaml:"api_key"`
		Model       string        `yaml:"model" default:"openai/gpt-4o-mini"`
		Temperature float64       `yaml:"temperature" default:"0.7"`
		MaxTokens   int64         `yaml:"max_tokens" default:"4096"`
		Timeout     time.Duration `yaml:"timeout" default:"60s"`
	} `yaml:"generator"`

	Feed struct {
		Mode           string        `yaml:"mode" default:"simulated" validate:"oneof=simulated websocket"`
		WebSocketURL   string        `yaml:"websocket_url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"feed"`

	News struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		URL          string        `yaml:"url"`
		PollInterval time.Duration `yaml:"poll_interval" default:"30s"`
		CacheTTL     time.Duration `yaml:"cache_ttl" default:"5m"`
	} `yaml:"news"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled" default:"false"`
		Brokers      []string      `yaml:"brokers"`
		TopicPrefix  string        `yaml:"topic_prefix" default:"algoarena"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async" default:"true"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled      bool          `yaml:"enabled" default:"false"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"algoarena"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" default:"false"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" default:"0"`
		Prefix   string `yaml:"prefix" default:"algoarena"`
	} `yaml:"redis"`

	Snapshot struct {
		Interval time.Duration `yaml:"interval" default:"30s"`
	} `yaml:"snapshot"`
}

var validate = validator.New()

// Load reads the YAML configuration, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if len(c.Regeneration.Models) == 0 {
		c.Regeneration.Models = []string{c.Generator.Model}
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets and endpoints
// with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.Generator.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Arena.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return c, nil
}

func (c *Config) check() error {
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Mode == "websocket" && c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed.websocket_url is required in websocket mode")
	}
	if c.Supervisor.NewsMinorScore >= c.Supervisor.NewsCatastrophic {
		return fmt.Errorf("news_minor_score must be below news_catastrophic_score")
	}
	if c.Arena.SlippageMinBps > c.Arena.SlippageMaxBps {
		return fmt.Errorf("slippage_min_bps must not exceed slippage_max_bps")
	}
	return nil
}
