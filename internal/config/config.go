// Package config は起動時に1回だけ読み込むアプリケーション設定を提供する。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 対応するバックエンド・ドライバ名。
const (
	HandoffBackendMemory = "memory"
	HandoffBackendRedis  = "redis"

	HardwareDriverRC522 = "rc522"
	HardwareDriverLine  = "line"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Rate Limit (req/min/client)
	RateLimitGeneral      int
	RateLimitRegistration int

	// Absentee sweep
	AbsentCutoff  string
	SweepSchedule string

	// Scan loop
	ScanMode            string
	ScanCooldown        time.Duration
	ScanMaxReadFailures int

	// Handoff
	HandoffBackend string
	RedisURL       string
	HandoffKey     string

	// Hardware
	Hardware HardwareConfig

	// Observability
	MetricsPort string
	LogLevel    string
}

// HardwareConfig はカードリーダーとブザーの設定。
// ROLLCALL_CONFIG_FILE のYAMLの hardware セクションからも読み込める。
type HardwareConfig struct {
	Driver     string        `yaml:"driver"`
	SPIPort    string        `yaml:"spi_port"`
	BuzzerPin  string        `yaml:"buzzer_pin"`
	ResetPin   string        `yaml:"reset_pin"`
	IRQPin     string        `yaml:"irq_pin"`
	PollPeriod time.Duration `yaml:"poll_period"`
	Tones      ToneConfig    `yaml:"tones"`
}

// ToneConfig は判定結果ごとのブザー鳴動時間。
type ToneConfig struct {
	Short      time.Duration `yaml:"short"`
	Long       time.Duration `yaml:"long"`
	Registered time.Duration `yaml:"registered"`
}

// fileConfig は設定ファイルのトップレベル構造。
type fileConfig struct {
	Hardware HardwareConfig `yaml:"hardware"`
}

// Load は .env、設定ファイル、環境変数の順にConfigを読み込む。
// 環境変数が設定ファイルより優先される。DATABASE_URLが未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}
	return cfg, nil
}

// LoadLocal はDBを使わないコマンド（ブザーテストなど）向けにConfigを読み込む。
// DATABASE_URLの未設定をエラーにしない。
func LoadLocal() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	// .env は存在する場合のみ読み込む。既存の環境変数は上書きしない。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	hw := defaultHardware()
	if path := os.Getenv("ROLLCALL_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &hw); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		ServerPort:            getEnvString("SERVER_PORT", "8080"),
		CORSAllowedOrigin:     getEnvString("CORS_ALLOWED_ORIGIN", "*"),
		RateLimitGeneral:      getEnvInt("RATE_LIMIT_GENERAL", 120),
		RateLimitRegistration: getEnvInt("RATE_LIMIT_REGISTRATION", 10),
		AbsentCutoff:          getEnvString("ABSENT_CUTOFF", "08:30"),
		SweepSchedule:         getEnvString("SWEEP_SCHEDULE", "31 8 * * *"),
		ScanMode:              getEnvString("SCAN_MODE", "handoff"),
		ScanCooldown:          getEnvDuration("SCAN_COOLDOWN", 1500*time.Millisecond),
		ScanMaxReadFailures:   getEnvInt("SCAN_MAX_READ_FAILURES", 3),
		HandoffBackend:        getEnvString("HANDOFF_BACKEND", HandoffBackendMemory),
		RedisURL:              os.Getenv("REDIS_URL"),
		HandoffKey:            getEnvString("HANDOFF_KEY", "rollcall:scanner:latest_uid"),
		MetricsPort:           os.Getenv("METRICS_PORT"),
		LogLevel:              getEnvString("LOG_LEVEL", "info"),
		Hardware: HardwareConfig{
			Driver:     getEnvString("HARDWARE_DRIVER", hw.Driver),
			SPIPort:    getEnvString("HARDWARE_SPI_PORT", hw.SPIPort),
			BuzzerPin:  getEnvString("HARDWARE_BUZZER_PIN", hw.BuzzerPin),
			ResetPin:   getEnvString("HARDWARE_RESET_PIN", hw.ResetPin),
			IRQPin:     getEnvString("HARDWARE_IRQ_PIN", hw.IRQPin),
			PollPeriod: hw.PollPeriod,
			Tones:      hw.Tones,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は列挙値と組み合わせの整合性を検査する。
func (c *Config) validate() error {
	switch c.HandoffBackend {
	case HandoffBackendMemory:
	case HandoffBackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when HANDOFF_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported HANDOFF_BACKEND: %q", c.HandoffBackend)
	}

	switch c.Hardware.Driver {
	case HardwareDriverRC522, HardwareDriverLine:
	default:
		return fmt.Errorf("unsupported HARDWARE_DRIVER: %q", c.Hardware.Driver)
	}

	if c.ScanMaxReadFailures < 1 {
		return fmt.Errorf("SCAN_MAX_READ_FAILURES must be positive: %d", c.ScanMaxReadFailures)
	}
	return nil
}

func defaultHardware() HardwareConfig {
	return HardwareConfig{
		Driver:    HardwareDriverRC522,
		BuzzerPin: "GPIO18",
		ResetPin:  "GPIO25",
		IRQPin:    "GPIO24",
		Tones: ToneConfig{
			Short:      200 * time.Millisecond,
			Long:       500 * time.Millisecond,
			Registered: 600 * time.Millisecond,
		},
	}
}

// loadFile はYAML設定ファイルのhardwareセクションをhwに上書きする。
// ファイルに記載のない項目はデフォルト値のまま残る。
func loadFile(path string, hw *HardwareConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	fc := fileConfig{Hardware: *hw}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	*hw = fc.Hardware
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
