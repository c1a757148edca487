// Package config loads the runtime configuration: defaults, then an optional
// YAML file, then MUDRA_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Store       StoreConfig      `yaml:"store"`
	Bus         BusConfig        `yaml:"bus"`
	Capture     CaptureConfig    `yaml:"capture"`
	Detector    DetectorConfig   `yaml:"detector"`
	Model       ModelConfig      `yaml:"model"`
	Translator  TranslatorConfig `yaml:"translator"`
	Speech      SpeechConfig     `yaml:"speech"`
	Tray        TrayConfig       `yaml:"tray"`
}

type HTTPConfig struct {
	Bind      string `yaml:"bind"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Bind, h.Port)
}

type TelemetryConfig struct {
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"` // json, text
	OTLPEndpoint      string `yaml:"otlp_endpoint"`
	OTLPInsecure      bool   `yaml:"otlp_insecure"`
	TraceStdout       bool   `yaml:"trace_stdout"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Token          string   `yaml:"token"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	DeviceID int `yaml:"device_id"`
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	MaxFPS   int `yaml:"max_fps"`
}

type DetectorConfig struct {
	Mode                  string  `yaml:"mode"` // mediapipe, mock
	MaxHands              int     `yaml:"max_hands"`
	MinConfidence         float64 `yaml:"min_confidence"`
	MinTrackingConfidence float64 `yaml:"min_tracking_confidence"`
	ScriptPath            string  `yaml:"script_path"`
	Python                string  `yaml:"python"` // empty searches for a venv, then python3
}

type ModelConfig struct {
	Path               string  `yaml:"path"`
	LabelsPath         string  `yaml:"labels_path"`
	InputLength        int     `yaml:"input_length"`
	NormalizationScale float64 `yaml:"normalization_scale"`
}

type TranslatorConfig struct {
	Mode        string  `yaml:"mode"` // gemini, ollama, mock
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`    // empty selects the backend default
	Endpoint    string  `yaml:"endpoint"` // empty selects the backend default
	TimeoutMS   int     `yaml:"timeout_ms"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type SpeechConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // exec, mock
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		RuntimeName: "mudra",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			OTLPInsecure:      true,
			PrometheusEnabled: true,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "./data/mudra.db",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			SubjectPrefix:  "mudra",
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			DeviceID: 0,
			Width:    640,
			Height:   480,
			MaxFPS:   15,
		},
		Detector: DetectorConfig{
			Mode:                  "mediapipe",
			MaxHands:              1,
			MinConfidence:         0.5,
			MinTrackingConfidence: 0.5,
		},
		Model: ModelConfig{
			Path:               "./models/model.json",
			InputLength:        63,
			NormalizationScale: 500,
		},
		Translator: TranslatorConfig{
			Mode:        "mock",
			TimeoutMS:   15000,
			Temperature: 0.4,
			MaxTokens:   128,
		},
		Speech: SpeechConfig{
			Enabled: false,
			Mode:    "mock",
			Command: "espeak-ng --stdin",
		},
		Tray: TrayConfig{
			Enabled: false,
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
	overrideString(&cfg.RuntimeName, "MUDRA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MUDRA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MUDRA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MUDRA_HTTP_PORT")
	overrideString(&cfg.HTTP.StaticDir, "MUDRA_HTTP_STATIC_DIR")
	overrideString(&cfg.Telemetry.LogLevel, "MUDRA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "MUDRA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MUDRA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MUDRA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "MUDRA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Telemetry.PrometheusEnabled, "MUDRA_TELEMETRY_PROMETHEUS_ENABLED")
	overrideBool(&cfg.Store.Enabled, "MUDRA_STORE_ENABLED")
	overrideString(&cfg.Store.Path, "MUDRA_STORE_PATH")
	overrideBool(&cfg.Bus.Enabled, "MUDRA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MUDRA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MUDRA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MUDRA_BUS_SERVERS")
	overrideString(&cfg.Bus.Token, "MUDRA_BUS_TOKEN")
	overrideString(&cfg.Bus.SubjectPrefix, "MUDRA_BUS_SUBJECT_PREFIX")
	overrideInt(&cfg.Bus.ConnectTimeout, "MUDRA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.DeviceID, "MUDRA_CAPTURE_DEVICE_ID")
	overrideInt(&cfg.Capture.Width, "MUDRA_CAPTURE_WIDTH")
	overrideInt(&cfg.Capture.Height, "MUDRA_CAPTURE_HEIGHT")
	overrideInt(&cfg.Capture.MaxFPS, "MUDRA_CAPTURE_MAX_FPS")
	overrideString(&cfg.Detector.Mode, "MUDRA_DETECTOR_MODE")
	overrideInt(&cfg.Detector.MaxHands, "MUDRA_DETECTOR_MAX_HANDS")
	overrideFloat(&cfg.Detector.MinConfidence, "MUDRA_DETECTOR_MIN_CONFIDENCE")
	overrideFloat(&cfg.Detector.MinTrackingConfidence, "MUDRA_DETECTOR_MIN_TRACKING_CONFIDENCE")
	overrideString(&cfg.Detector.ScriptPath, "MUDRA_DETECTOR_SCRIPT_PATH")
	overrideOptionalString(&cfg.Detector.Python, "MUDRA_DETECTOR_PYTHON")
	overrideString(&cfg.Model.Path, "MUDRA_MODEL_PATH")
	overrideString(&cfg.Model.LabelsPath, "MUDRA_MODEL_LABELS_PATH")
	overrideInt(&cfg.Model.InputLength, "MUDRA_MODEL_INPUT_LENGTH")
	overrideFloat(&cfg.Model.NormalizationScale, "MUDRA_MODEL_NORMALIZATION_SCALE")
	overrideString(&cfg.Translator.Mode, "MUDRA_TRANSLATOR_MODE")
	overrideString(&cfg.Translator.APIKey, "MUDRA_TRANSLATOR_API_KEY")
	overrideOptionalString(&cfg.Translator.Model, "MUDRA_TRANSLATOR_MODEL")
	overrideOptionalString(&cfg.Translator.Endpoint, "MUDRA_TRANSLATOR_ENDPOINT")
	overrideInt(&cfg.Translator.TimeoutMS, "MUDRA_TRANSLATOR_TIMEOUT_MS")
	overrideFloat(&cfg.Translator.Temperature, "MUDRA_TRANSLATOR_TEMPERATURE")
	overrideInt(&cfg.Translator.MaxTokens, "MUDRA_TRANSLATOR_MAX_TOKENS")
	overrideBool(&cfg.Speech.Enabled, "MUDRA_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "MUDRA_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "MUDRA_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Voice, "MUDRA_SPEECH_VOICE")
	overrideBool(&cfg.Tray.Enabled, "MUDRA_TRAY_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideOptionalString lets an empty value clear fields whose zero value
// selects a per-backend default.
func overrideOptionalString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(value)
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
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty when the store is enabled")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	if cfg.Capture.MaxFPS <= 0 {
		return errors.New("capture.max_fps must be positive")
	}
	if cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		return errors.New("capture.width and capture.height must be positive")
	}
	switch cfg.Detector.Mode {
	case "mediapipe", "mock":
	default:
		return errors.New("detector.mode must be one of mediapipe|mock")
	}
	if cfg.Detector.MaxHands <= 0 {
		return errors.New("detector.max_hands must be positive")
	}
	if cfg.Detector.MinConfidence < 0 || cfg.Detector.MinConfidence > 1 {
		return errors.New("detector.min_confidence must be between 0 and 1")
	}
	if cfg.Detector.MinTrackingConfidence < 0 || cfg.Detector.MinTrackingConfidence > 1 {
		return errors.New("detector.min_tracking_confidence must be between 0 and 1")
	}
	if cfg.Model.Path == "" {
		return errors.New("model.path must not be empty")
	}
	if cfg.Model.InputLength <= 0 {
		return errors.New("model.input_length must be positive")
	}
	if cfg.Model.NormalizationScale <= 0 {
		return errors.New("model.normalization_scale must be positive")
	}
	switch cfg.Translator.Mode {
	case "mock", "ollama":
	case "gemini":
		if cfg.Translator.APIKey == "" {
			return errors.New("translator.api_key must be set when mode=gemini")
		}
	default:
		return errors.New("translator.mode must be one of gemini|ollama|mock")
	}
	if cfg.Translator.TimeoutMS <= 0 {
		return errors.New("translator.timeout_ms must be positive")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock":
		case "exec":
			if cfg.Speech.Command == "" {
				return errors.New("speech.command must be set when mode=exec")
			}
		default:
			return errors.New("speech.mode must be one of exec|mock")
		}
	}
	return nil
}
