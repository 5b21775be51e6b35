package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
	Metrics      bool   `yaml:"metrics"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Generation  GenerationConfig `yaml:"generation"`
	Narration   NarrationConfig  `yaml:"narration"`
	Player      PlayerConfig     `yaml:"player"`
	Quiz        QuizConfig       `yaml:"quiz"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // memory, session, ephemeral
	RetentionDays int    `yaml:"retention_days"`
	MaxAttempts   int    `yaml:"max_attempts"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// RemoteConfig holds the settings shared by the remote model backends.
type RemoteConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBaseMS   int    `yaml:"retry_base_ms"`
}

type GenerationConfig struct {
	Mode    string       `yaml:"mode"` // gemini, mock, exec, wasm
	Command string       `yaml:"command"`
	Module  string       `yaml:"module"`
	Remote  RemoteConfig `yaml:"remote"`
}

type NarrationConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Mode       string       `yaml:"mode"` // gemini, mock, exec
	Command    string       `yaml:"command"`
	Voice      string       `yaml:"voice"`
	SampleRate int          `yaml:"sample_rate"`
	Remote     RemoteConfig `yaml:"remote"`
}

type PlayerConfig struct {
	Mode      string `yaml:"mode"` // null, exec, file
	Command   string `yaml:"command"`
	Directory string `yaml:"directory"`
}

type QuizConfig struct {
	TotalSeconds int     `yaml:"total_seconds"`
	PassRatio    float64 `yaml:"pass_ratio"`
	MaxQuestions int     `yaml:"max_questions"`
	NoticeTTLMS  int     `yaml:"notice_ttl_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-quiz",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			Metrics:      true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/quiz-events.db",
			RetentionMode: "memory",
			RetentionDays: 7,
			MaxAttempts:   1000,
		},
		Generation: GenerationConfig{
			Mode: "mock",
			Remote: RemoteConfig{
				Model:         "gemini-2.5-flash-preview-09-2025",
				TimeoutMS:     60000,
				RetryAttempts: 3,
				RetryBaseMS:   1000,
			},
		},
		Narration: NarrationConfig{
			Enabled:    true,
			Mode:       "mock",
			Voice:      "Kore",
			SampleRate: 24000,
			Remote: RemoteConfig{
				Model:         "gemini-2.5-flash-preview-tts",
				TimeoutMS:     45000,
				RetryAttempts: 3,
				RetryBaseMS:   1000,
			},
		},
		Player: PlayerConfig{
			Mode:      "null",
			Command:   "aplay -q -",
			Directory: "./data/narration",
		},
		Quiz: QuizConfig{
			TotalSeconds: 601,
			PassRatio:    0.7,
			MaxQuestions: 10,
			NoticeTTLMS:  8000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "QUIZ_RUNTIME_NAME")
	overrideString(&cfg.Environment, "QUIZ_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "QUIZ_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "QUIZ_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "QUIZ_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "QUIZ_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "QUIZ_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "QUIZ_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Telemetry.Metrics, "QUIZ_TELEMETRY_METRICS")
	overrideBool(&cfg.Bus.Enabled, "QUIZ_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "QUIZ_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "QUIZ_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "QUIZ_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "QUIZ_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "QUIZ_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "QUIZ_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "QUIZ_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "QUIZ_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "QUIZ_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "QUIZ_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "QUIZ_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxAttempts, "QUIZ_EVENT_STORE_MAX_ATTEMPTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "QUIZ_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Generation.Mode, "QUIZ_GENERATION_MODE")
	overrideString(&cfg.Generation.Command, "QUIZ_GENERATION_COMMAND")
	overrideString(&cfg.Generation.Module, "QUIZ_GENERATION_MODULE")
	overrideRemote(&cfg.Generation.Remote, "QUIZ_GENERATION")
	overrideBool(&cfg.Narration.Enabled, "QUIZ_NARRATION_ENABLED")
	overrideString(&cfg.Narration.Mode, "QUIZ_NARRATION_MODE")
	overrideString(&cfg.Narration.Command, "QUIZ_NARRATION_COMMAND")
	overrideString(&cfg.Narration.Voice, "QUIZ_NARRATION_VOICE")
	overrideInt(&cfg.Narration.SampleRate, "QUIZ_NARRATION_SAMPLE_RATE")
	overrideRemote(&cfg.Narration.Remote, "QUIZ_NARRATION")
	overrideString(&cfg.Player.Mode, "QUIZ_PLAYER_MODE")
	overrideString(&cfg.Player.Command, "QUIZ_PLAYER_COMMAND")
	overrideString(&cfg.Player.Directory, "QUIZ_PLAYER_DIRECTORY")
	overrideInt(&cfg.Quiz.TotalSeconds, "QUIZ_TOTAL_SECONDS")
	overrideFloat(&cfg.Quiz.PassRatio, "QUIZ_PASS_RATIO")
	overrideInt(&cfg.Quiz.MaxQuestions, "QUIZ_MAX_QUESTIONS")
	overrideInt(&cfg.Quiz.NoticeTTLMS, "QUIZ_NOTICE_TTL_MS")

	// One key serves both Gemini backends unless a backend sets its own.
	if cfg.Generation.Remote.APIKey == "" {
		overrideString(&cfg.Generation.Remote.APIKey, "QUIZ_GEMINI_API_KEY")
	}
	if cfg.Narration.Remote.APIKey == "" {
		overrideString(&cfg.Narration.Remote.APIKey, "QUIZ_GEMINI_API_KEY")
	}
}

func overrideRemote(target *RemoteConfig, prefix string) {
	overrideString(&target.Endpoint, prefix+"_ENDPOINT")
	overrideString(&target.APIKey, prefix+"_API_KEY")
	overrideString(&target.Model, prefix+"_MODEL")
	overrideInt(&target.TimeoutMS, prefix+"_TIMEOUT_MS")
	overrideInt(&target.RetryAttempts, prefix+"_RETRY_ATTEMPTS")
	overrideInt(&target.RetryBaseMS, prefix+"_RETRY_BASE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "memory", "ephemeral":
	case "session":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when retention_mode=session")
		}
	default:
		return errors.New("event_store.retention_mode must be one of memory|session|ephemeral")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.EventStore.MaxAttempts < 0 {
		return errors.New("event_store.max_attempts must be >= 0")
	}
	if cfg.Generation.Mode == "wasm" {
		if cfg.Generation.Module == "" {
			return errors.New("generation.module must be set when mode=wasm")
		}
	} else if err := validateBackend("generation", cfg.Generation.Mode, cfg.Generation.Command, cfg.Generation.Remote); err != nil {
		return err
	}
	if cfg.Narration.Enabled {
		if err := validateBackend("narration", cfg.Narration.Mode, cfg.Narration.Command, cfg.Narration.Remote); err != nil {
			return err
		}
		if cfg.Narration.SampleRate <= 0 {
			return errors.New("narration.sample_rate must be positive")
		}
		if cfg.Narration.Mode == "gemini" && cfg.Narration.Voice == "" {
			return errors.New("narration.voice must be set when mode=gemini")
		}
		switch cfg.Player.Mode {
		case "null":
		case "exec":
			if cfg.Player.Command == "" {
				return errors.New("player.command must be set when mode=exec")
			}
		case "file":
			if cfg.Player.Directory == "" {
				return errors.New("player.directory must be set when mode=file")
			}
		default:
			return errors.New("player.mode must be one of null|exec|file")
		}
	}
	if cfg.Quiz.TotalSeconds <= 1 {
		return errors.New("quiz.total_seconds must be greater than 1")
	}
	if cfg.Quiz.PassRatio <= 0 || cfg.Quiz.PassRatio > 1 {
		return errors.New("quiz.pass_ratio must be in (0, 1]")
	}
	if cfg.Quiz.MaxQuestions < 1 {
		return errors.New("quiz.max_questions must be >= 1")
	}
	if cfg.Quiz.NoticeTTLMS <= 0 {
		return errors.New("quiz.notice_ttl_ms must be positive")
	}
	return nil
}

func validateBackend(section, mode, command string, remote RemoteConfig) error {
	switch mode {
	case "mock":
	case "exec":
		if command == "" {
			return fmt.Errorf("%s.command must be set when mode=exec", section)
		}
	case "gemini":
		if remote.APIKey == "" {
			return fmt.Errorf("%s.remote.api_key must be set when mode=gemini", section)
		}
		if remote.Model == "" {
			return fmt.Errorf("%s.remote.model must be set when mode=gemini", section)
		}
	default:
		return fmt.Errorf("%s.mode must be one of gemini|mock|exec", section)
	}
	if remote.RetryAttempts < 0 {
		return fmt.Errorf("%s.remote.retry_attempts must be >= 0", section)
	}
	return nil
}
