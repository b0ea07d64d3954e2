package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// Level maps log_level onto slog; unknown values fall back to info.
func (t TelemetryConfig) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
	Service     ServiceConfig    `yaml:"service"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Chunking    ChunkingConfig   `yaml:"chunking"`
	Merge       MergeConfig      `yaml:"merge"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Output      OutputConfig     `yaml:"output"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ServiceConfig controls the bus-facing job service of the daemon.
type ServiceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RequestSubject  string `yaml:"request_subject"`
	ProgressSubject string `yaml:"progress_subject"`
	StatusSubject   string `yaml:"status_subject"`
	MaxJobs         int    `yaml:"max_concurrent_jobs"`
	OutputDir       string `yaml:"output_dir"`
}

type BackendConfig struct {
	Mode            string `yaml:"mode"` // http, websocket, polly, exec, mock
	Endpoint        string `yaml:"endpoint"`
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	OutputFormat    string `yaml:"output_format"`
	APIKey          string `yaml:"api_key"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type SynthesisConfig struct {
	Language   string        `yaml:"language"`
	Voice      string        `yaml:"voice"`
	TimeoutMS  int           `yaml:"timeout_ms"`
	MaxWorkers int           `yaml:"max_workers"`
	Primary    BackendConfig `yaml:"primary"`
	Secondary  BackendConfig `yaml:"secondary"`
}

type ChunkingConfig struct {
	WordsPerMinute int `yaml:"words_per_minute"`
	ChunkSeconds   int `yaml:"chunk_seconds"`
	Parallel       int `yaml:"parallel"`
}

type MergeConfig struct {
	TranscoderCommand string `yaml:"transcoder_command"`
}

type PlaybackConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Stream          bool   `yaml:"stream"`
	GUI             bool   `yaml:"gui"`
	GUICommand      string `yaml:"gui_command"`
	HeadlessCommand string `yaml:"headless_command"`
	ReleaseDelayMS  int    `yaml:"release_delay_ms"`
}

type OutputConfig struct {
	Path         string `yaml:"path"`
	PartPrefix   string `yaml:"part_prefix"`
	WorkDir      string `yaml:"work_dir"`
	KeepParts    bool   `yaml:"keep_parts"`
	AllowPartial bool   `yaml:"allow_partial"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Enabled:       true,
			Path:          "./data/narrate-history.db",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Service: ServiceConfig{
			Enabled:         true,
			RequestSubject:  "narrate.job.request",
			ProgressSubject: "narrate.job.progress",
			StatusSubject:   "narrate.job.status",
			MaxJobs:         2,
			OutputDir:       "./data/audio",
		},
		Synthesis: SynthesisConfig{
			Language:  "en",
			TimeoutMS: 60000,
			Primary: BackendConfig{
				Mode:         "http",
				Endpoint:     "https://eastus.tts.speech.microsoft.com/cognitiveservices/v1",
				OutputFormat: "audio-16khz-128kbitrate-mono-mp3",
			},
			Secondary: BackendConfig{
				Mode:         "websocket",
				Endpoint:     "wss://dashscope.aliyuncs.com/api-ws/v1/inference",
				OutputFormat: "mp3",
			},
		},
		Chunking: ChunkingConfig{
			WordsPerMinute: 160,
		},
		Merge: MergeConfig{
			TranscoderCommand: "ffmpeg -y -hide_banner -loglevel error",
		},
		Playback: PlaybackConfig{
			Enabled:         true,
			GUICommand:      "vlc --play-and-exit",
			HeadlessCommand: "ffplay -nodisp -autoexit -loglevel quiet",
			ReleaseDelayMS:  300,
		},
		Output: OutputConfig{
			Path:       "data.mp3",
			PartPrefix: ".part",
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.EventStore.Enabled, "LOQA_EVENT_STORE_ENABLED")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "LOQA_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Service.Enabled, "LOQA_SERVICE_ENABLED")
	overrideString(&cfg.Service.RequestSubject, "LOQA_SERVICE_REQUEST_SUBJECT")
	overrideString(&cfg.Service.ProgressSubject, "LOQA_SERVICE_PROGRESS_SUBJECT")
	overrideString(&cfg.Service.StatusSubject, "LOQA_SERVICE_STATUS_SUBJECT")
	overrideInt(&cfg.Service.MaxJobs, "LOQA_SERVICE_MAX_CONCURRENT_JOBS")
	overrideString(&cfg.Service.OutputDir, "LOQA_SERVICE_OUTPUT_DIR")
	overrideString(&cfg.Synthesis.Language, "LOQA_SYNTHESIS_LANGUAGE")
	overrideString(&cfg.Synthesis.Voice, "LOQA_SYNTHESIS_VOICE")
	overrideInt(&cfg.Synthesis.TimeoutMS, "LOQA_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MaxWorkers, "LOQA_SYNTHESIS_MAX_WORKERS")
	overrideBackend(&cfg.Synthesis.Primary, "LOQA_SYNTHESIS_PRIMARY")
	overrideBackend(&cfg.Synthesis.Secondary, "LOQA_SYNTHESIS_SECONDARY")
	overrideInt(&cfg.Chunking.WordsPerMinute, "LOQA_CHUNKING_WORDS_PER_MINUTE")
	overrideInt(&cfg.Chunking.ChunkSeconds, "LOQA_CHUNKING_CHUNK_SECONDS")
	overrideInt(&cfg.Chunking.Parallel, "LOQA_CHUNKING_PARALLEL")
	overrideString(&cfg.Merge.TranscoderCommand, "LOQA_MERGE_TRANSCODER_COMMAND")
	overrideBool(&cfg.Playback.Enabled, "LOQA_PLAYBACK_ENABLED")
	overrideBool(&cfg.Playback.Stream, "LOQA_PLAYBACK_STREAM")
	overrideBool(&cfg.Playback.GUI, "LOQA_PLAYBACK_GUI")
	overrideString(&cfg.Playback.GUICommand, "LOQA_PLAYBACK_GUI_COMMAND")
	overrideString(&cfg.Playback.HeadlessCommand, "LOQA_PLAYBACK_HEADLESS_COMMAND")
	overrideInt(&cfg.Playback.ReleaseDelayMS, "LOQA_PLAYBACK_RELEASE_DELAY_MS")
	overrideString(&cfg.Output.Path, "LOQA_OUTPUT_PATH")
	overrideString(&cfg.Output.PartPrefix, "LOQA_OUTPUT_PART_PREFIX")
	overrideString(&cfg.Output.WorkDir, "LOQA_OUTPUT_WORK_DIR")
	overrideBool(&cfg.Output.KeepParts, "LOQA_OUTPUT_KEEP_PARTS")
	overrideBool(&cfg.Output.AllowPartial, "LOQA_OUTPUT_ALLOW_PARTIAL")
}

func overrideBackend(target *BackendConfig, prefix string) {
	overrideString(&target.Mode, prefix+"_MODE")
	overrideString(&target.Endpoint, prefix+"_ENDPOINT")
	overrideString(&target.Command, prefix+"_COMMAND")
	overrideString(&target.Voice, prefix+"_VOICE")
	overrideString(&target.OutputFormat, prefix+"_OUTPUT_FORMAT")
	overrideString(&target.APIKey, prefix+"_API_KEY")
	overrideString(&target.Region, prefix+"_REGION")
	overrideString(&target.AccessKeyID, prefix+"_ACCESS_KEY_ID")
	overrideString(&target.SecretAccessKey, prefix+"_SECRET_ACCESS_KEY")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.EventStore.Enabled && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Service.Enabled {
		if cfg.Service.RequestSubject == "" {
			return errors.New("service.request_subject must not be empty")
		}
		if cfg.Service.MaxJobs <= 0 {
			return errors.New("service.max_concurrent_jobs must be >= 1")
		}
	}
	if cfg.Synthesis.TimeoutMS < 0 {
		return errors.New("synthesis.timeout_ms must be >= 0")
	}
	if cfg.Synthesis.MaxWorkers < 0 {
		return errors.New("synthesis.max_workers must be >= 0")
	}
	if err := validateBackend("synthesis.primary", cfg.Synthesis.Primary, true); err != nil {
		return err
	}
	if err := validateBackend("synthesis.secondary", cfg.Synthesis.Secondary, false); err != nil {
		return err
	}
	if cfg.Chunking.WordsPerMinute < 0 {
		return errors.New("chunking.words_per_minute must be >= 0")
	}
	if cfg.Chunking.ChunkSeconds < 0 {
		return errors.New("chunking.chunk_seconds must be >= 0")
	}
	if cfg.Chunking.Parallel < 0 {
		return errors.New("chunking.parallel must be >= 0")
	}
	if cfg.Playback.Enabled && cfg.Playback.GUICommand == "" && cfg.Playback.HeadlessCommand == "" {
		return errors.New("playback requires gui_command or headless_command")
	}
	if cfg.Output.Path == "" {
		return errors.New("output.path must not be empty")
	}
	if cfg.Output.PartPrefix == "" || strings.ContainsAny(cfg.Output.PartPrefix, `/\*?[`) {
		return errors.New("output.part_prefix must be a plain file name prefix")
	}
	return nil
}

func validateBackend(name string, b BackendConfig, required bool) error {
	switch b.Mode {
	case "":
		if required {
			return fmt.Errorf("%s.mode must be set", name)
		}
		return nil
	case "mock":
	case "http", "websocket":
		if b.Endpoint == "" {
			return fmt.Errorf("%s.endpoint must be set when mode=%s", name, b.Mode)
		}
	case "exec":
		if b.Command == "" {
			return fmt.Errorf("%s.command must be set when mode=exec", name)
		}
	case "polly":
		if b.Region == "" {
			return fmt.Errorf("%s.region must be set when mode=polly", name)
		}
	default:
		return fmt.Errorf("%s.mode must be one of http|websocket|polly|exec|mock", name)
	}
	return nil
}
