package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TICKETDIGEST_LLM_MODEL.
const EnvPrefix = "TICKETDIGEST"

// Duration is a time.Duration that reads and writes as "90s" in the
// config file.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	DataDir       string `json:"data_dir" mapstructure:"data_dir"`
	LogLevel      string `json:"log_level" mapstructure:"log_level"`
	MaxConcurrent int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	HTTP          struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Listen  string `json:"listen" mapstructure:"listen"`
		Secret  string `json:"secret" mapstructure:"secret"`
	} `json:"http" mapstructure:"http"`
	GLPI struct {
		URL       string   `json:"url" mapstructure:"url"`
		AppToken  string   `json:"app_token" mapstructure:"app_token"`
		UserToken string   `json:"user_token" mapstructure:"user_token"`
		Login     string   `json:"login" mapstructure:"login"`
		Password  string   `json:"password" mapstructure:"password"`
		Timeout   Duration `json:"timeout" mapstructure:"timeout"`
		Timezone  string   `json:"timezone" mapstructure:"timezone"`
	} `json:"glpi" mapstructure:"glpi"`
	LLM struct {
		BaseURL          string   `json:"base_url" mapstructure:"base_url"`
		APIKey           string   `json:"api_key" mapstructure:"api_key"`
		Model            string   `json:"model" mapstructure:"model"`
		EmbeddingModel   string   `json:"embedding_model" mapstructure:"embedding_model"`
		MaxTokens        int      `json:"max_tokens" mapstructure:"max_tokens"`
		Temperature      float64  `json:"temperature" mapstructure:"temperature"`
		Timeout          Duration `json:"timeout" mapstructure:"timeout"`
		MaxRetries       int      `json:"max_retries" mapstructure:"max_retries"`
		MaxContextTokens int      `json:"max_context_tokens" mapstructure:"max_context_tokens"`
	} `json:"llm" mapstructure:"llm"`
	RAG struct {
		ChunkSize    int `json:"chunk_size" mapstructure:"chunk_size"`
		ChunkOverlap int `json:"chunk_overlap" mapstructure:"chunk_overlap"`
		TopK         int `json:"top_k" mapstructure:"top_k"`
		MaxChunks    int `json:"max_chunks" mapstructure:"max_chunks"`
	} `json:"rag" mapstructure:"rag"`
	Storage struct {
		Backend string `json:"backend" mapstructure:"backend"`
		Bucket  string `json:"bucket" mapstructure:"bucket"`
		Prefix  string `json:"prefix" mapstructure:"prefix"`
		S3      struct {
			Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
			Region          string `json:"region" mapstructure:"region"`
			AccessKeyID     string `json:"access_key_id" mapstructure:"access_key_id"`
			SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key"`
		} `json:"s3" mapstructure:"s3"`
		GCS struct {
			CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
			EmulatorHost    string `json:"emulator_host" mapstructure:"emulator_host"`
		} `json:"gcs" mapstructure:"gcs"`
		FS struct {
			Root string `json:"root" mapstructure:"root"`
		} `json:"fs" mapstructure:"fs"`
		Retry struct {
			MaxAttempts  int      `json:"max_attempts" mapstructure:"max_attempts"`
			InitialDelay Duration `json:"initial_delay" mapstructure:"initial_delay"`
		} `json:"retry" mapstructure:"retry"`
	} `json:"storage" mapstructure:"storage"`
	Report struct {
		ScratchDir    string   `json:"scratch_dir" mapstructure:"scratch_dir"`
		SweepSchedule string   `json:"sweep_schedule" mapstructure:"sweep_schedule"`
		SweepMaxAge   Duration `json:"sweep_max_age" mapstructure:"sweep_max_age"`
	} `json:"report" mapstructure:"report"`
	Dedup struct {
		Window Duration `json:"window" mapstructure:"window"`
		Redis  struct {
			Addr     string `json:"addr" mapstructure:"addr"`
			Password string `json:"password" mapstructure:"password"`
			DB       int    `json:"db" mapstructure:"db"`
		} `json:"redis" mapstructure:"redis"`
	} `json:"dedup" mapstructure:"dedup"`
	Telemetry struct {
		Tracing      string `json:"tracing" mapstructure:"tracing"`
		OTLPEndpoint string `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	} `json:"telemetry" mapstructure:"telemetry"`
	Alerts struct {
		TelegramToken string   `json:"telegram_token" mapstructure:"telegram_token"`
		Targets       []string `json:"targets" mapstructure:"targets"`
	} `json:"alerts" mapstructure:"alerts"`
}

// DefaultPath is ~/.ticketdigest/config.json.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.json")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ticketdigest")
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       defaultDataDir(),
		LogLevel:      "info",
		MaxConcurrent: 2,
	}
	cfg.HTTP.Listen = ":8080"
	cfg.GLPI.Timeout = Duration(30 * time.Second)
	cfg.GLPI.Timezone = "UTC"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	cfg.LLM.MaxTokens = 512
	cfg.LLM.Temperature = 0.7
	cfg.LLM.Timeout = Duration(90 * time.Second)
	cfg.LLM.MaxRetries = 2
	cfg.LLM.MaxContextTokens = 3000
	cfg.RAG.ChunkSize = 1000
	cfg.RAG.ChunkOverlap = 200
	cfg.RAG.TopK = 4
	cfg.RAG.MaxChunks = 128
	cfg.Storage.Backend = "fs"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Storage.Retry.MaxAttempts = 3
	cfg.Storage.Retry.InitialDelay = Duration(time.Second)
	cfg.Report.SweepSchedule = "@hourly"
	cfg.Report.SweepMaxAge = Duration(time.Hour)
	cfg.Dedup.Window = Duration(time.Minute)
	cfg.Telemetry.Tracing = "none"
	return cfg
}

// legacyEnv maps config keys to the plain variable names older
// deployments export. TICKETDIGEST_* always wins.
var legacyEnv = map[string][]string{
	"glpi.url":                     {"GLPI_URL", "GLPI_API_URL"},
	"glpi.app_token":               {"GLPI_APP_TOKEN"},
	"glpi.user_token":              {"GLPI_USER_TOKEN"},
	"llm.api_key":                  {"AKASH_API_KEY", "OPENAI_API_KEY"},
	"llm.base_url":                 {"AKASH_API_BASE", "OPENAI_BASE_URL"},
	"storage.bucket":               {"WASABI_BUCKET_NAME", "WASABI_BUCKET"},
	"storage.s3.endpoint":          {"WASABI_ENDPOINT_URL", "WASABI_ENDPOINT"},
	"storage.s3.region":            {"WASABI_REGION"},
	"storage.s3.access_key_id":     {"WASABI_ACCESS_KEY", "WASABI_ACCESS_KEY_ID"},
	"storage.s3.secret_access_key": {"WASABI_SECRET_KEY", "WASABI_SECRET_ACCESS_KEY"},
	"alerts.telegram_token":        {"TELEGRAM_BOT_TOKEN"},
	"storage.gcs.emulator_host":    {"STORAGE_EMULATOR_HOST"},
	"telemetry.otlp_endpoint":      {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"storage.gcs.credentials_file": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"dedup.redis.addr":             {"REDIS_ADDR"},
	"dedup.redis.password":         {"REDIS_PASSWORD"},
	"http.secret":                  {"WEBHOOK_SECRET"},
}

// Load reads path, writing defaults there first if it does not exist, and
// applies environment overrides on top.
func Load(path string) (*Config, error) {
	def := Defaults()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(path, def); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	defaults, err := ToMap(def)
	if err != nil {
		return nil, err
	}
	for k, val := range Flatten(defaults) {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.GLPI.URL == "" {
		errs = append(errs, errors.New("glpi.url is required"))
	}
	if c.GLPI.AppToken == "" {
		errs = append(errs, errors.New("glpi.app_token is required"))
	}
	if c.GLPI.UserToken == "" && (c.GLPI.Login == "" || c.GLPI.Password == "") {
		errs = append(errs, errors.New("glpi.user_token or glpi.login and glpi.password are required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.EmbeddingModel == "" {
		errs = append(errs, errors.New("llm.embedding_model is required"))
	}
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, errors.New("rag.chunk_size must be positive"))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, errors.New("rag.chunk_overlap must be in [0, chunk_size)"))
	}
	switch c.Storage.Backend {
	case "", "fs":
	case "s3", "wasabi", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Telemetry.Tracing {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.tracing %q", c.Telemetry.Tracing))
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen is required when http is enabled"))
	}
	return errors.Join(errs...)
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map the way it appears in the file.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues flattens cfg, masking secrets when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under key in the file at path.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores raw under key in the existing file at path. raw is
// parsed as JSON when possible so numbers and booleans keep their type.
func SetValue(path, key, raw string) error {
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	flat[key] = v
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}
