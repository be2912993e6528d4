package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL        = "https://api.timbal.ai"
	DefaultRequestTimeout = 30 * time.Second
	DefaultStreamTimeout  = 5 * time.Minute
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultHistoryLines   = 50
)

// Config holds runtime configuration values.
type Config struct {
	BaseURL        string
	App            string
	APIKey         string
	AccessToken    string
	RefreshToken   string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	NoStream       bool
	JSON           bool
	Quiet          bool
	Verbose        bool
	LogFile        string
	HistoryLines   int
	NoHistory      bool
	PersistRuns    bool
}

type rawConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	App            string `mapstructure:"app"`
	APIKey         string `mapstructure:"api_key"`
	AccessToken    string `mapstructure:"access_token"`
	RefreshToken   string `mapstructure:"refresh_token"`
	RequestTimeout string `mapstructure:"request_timeout"`
	StreamTimeout  string `mapstructure:"stream_timeout"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryBaseDelay string `mapstructure:"retry_base_delay"`
	NoStream       bool   `mapstructure:"no_stream"`
	JSON           bool   `mapstructure:"json"`
	Quiet          bool   `mapstructure:"quiet"`
	Verbose        bool   `mapstructure:"verbose"`
	LogFile        string `mapstructure:"log_file"`
	HistoryLines   int    `mapstructure:"history_lines"`
	NoHistory      bool   `mapstructure:"no_history"`
	OutputFormat   string `mapstructure:"output_format"`
	PersistRuns    bool   `mapstructure:"persist_runs"`
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TIMBAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("app", "")
	v.SetDefault("api_key", "")
	v.SetDefault("access_token", "")
	v.SetDefault("refresh_token", "")
	v.SetDefault("request_timeout", DefaultRequestTimeout.String())
	v.SetDefault("stream_timeout", DefaultStreamTimeout.String())
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_base_delay", DefaultRetryBaseDelay.String())
	v.SetDefault("no_stream", false)
	v.SetDefault("json", false)
	v.SetDefault("quiet", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_file", "")
	v.SetDefault("history_lines", DefaultHistoryLines)
	v.SetDefault("no_history", false)
	v.SetDefault("output_format", "text")
	v.SetDefault("persist_runs", false)

	if cmd != nil {
		_ = v.BindPFlag("base_url", cmd.Flags().Lookup("base-url"))
		_ = v.BindPFlag("app", cmd.Flags().Lookup("app"))
		_ = v.BindPFlag("request_timeout", cmd.Flags().Lookup("request-timeout"))
		_ = v.BindPFlag("stream_timeout", cmd.Flags().Lookup("stream-timeout"))
		_ = v.BindPFlag("max_retries", cmd.Flags().Lookup("max-retries"))
		_ = v.BindPFlag("no_stream", cmd.Flags().Lookup("no-stream"))
		_ = v.BindPFlag("json", cmd.Flags().Lookup("json"))
		_ = v.BindPFlag("quiet", cmd.Flags().Lookup("quiet"))
		_ = v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
		_ = v.BindPFlag("log_file", cmd.Flags().Lookup("log-file"))
		_ = v.BindPFlag("history_lines", cmd.Flags().Lookup("history-lines"))
		_ = v.BindPFlag("no_history", cmd.Flags().Lookup("no-history"))
		_ = v.BindPFlag("persist_runs", cmd.Flags().Lookup("persist-runs"))
	}

	if seconds := os.Getenv("TIMBAL_STREAM_TIMEOUT_SECONDS"); seconds != "" {
		v.Set("stream_timeout", seconds+"s")
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}

	requestTimeout, err := parseDuration(raw.RequestTimeout, DefaultRequestTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("invalid request_timeout: %w", err)
	}
	streamTimeout, err := parseDuration(raw.StreamTimeout, DefaultStreamTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("invalid stream_timeout: %w", err)
	}
	retryBaseDelay, err := parseDuration(raw.RetryBaseDelay, DefaultRetryBaseDelay)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry_base_delay: %w", err)
	}

	jsonOutput := raw.JSON
	if cmd != nil && cmd.Flags().Changed("json") {
		jsonOutput = v.GetBool("json")
	} else if strings.EqualFold(raw.OutputFormat, "json") {
		jsonOutput = true
	}

	cfg := Config{
		BaseURL:        raw.BaseURL,
		App:            raw.App,
		APIKey:         raw.APIKey,
		AccessToken:    raw.AccessToken,
		RefreshToken:   raw.RefreshToken,
		RequestTimeout: requestTimeout,
		StreamTimeout:  streamTimeout,
		MaxRetries:     raw.MaxRetries,
		RetryBaseDelay: retryBaseDelay,
		NoStream:       raw.NoStream,
		JSON:           jsonOutput,
		Quiet:          raw.Quiet,
		Verbose:        raw.Verbose,
		LogFile:        raw.LogFile,
		HistoryLines:   raw.HistoryLines,
		NoHistory:      raw.NoHistory,
		PersistRuns:    raw.PersistRuns,
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.HistoryLines < 0 {
		cfg.HistoryLines = 0
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, "timbal-cli")
	candidates := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
