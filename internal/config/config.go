// Package config loads and validates the gateway's runtime configuration.
//
// Precedence follows the teacher pattern: environment variables seed every
// field with a default, then config.yaml overrides the settings that should
// not be environment-driven (tool-routing options, the U2L public key, sync
// engine tunables). The result is a single frozen *Config that every other
// package consumes by reference — no per-call option maps.
package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config is the fully-defaulted, validated configuration for one process.
type Config struct {
	// HTTP server
	Port          string
	GinMode       string
	ShutdownGrace time.Duration

	// Model surface exposed at /v1/models
	ModelName string

	// Upstream (the proprietary streaming chat backend)
	UpstreamChatURL    string
	UpstreamPublicKey  string // PEM-armored PGP public key; empty unless UPSTREAM_PUBLIC_KEY is set
	UpstreamAppVersion string
	UpstreamTimeout    time.Duration

	// API auth — callers present this as a Bearer token
	GatewayAPIKey string

	// Conversation store
	ConversationStoreMaxSize int

	// Single-flight queue
	QueueDepth int

	// Sync engine
	SyncEnabled      bool
	SyncServerURL    string
	SyncPushInterval time.Duration
	SyncMasterKeyHex string // hex-encoded 32-byte master key, dev/test convenience

	// Title generation
	TitleGenerationEnabled bool
	TitleGenerationModel   string

	// Deterministic conversation id derivation (spec.md §4.3 step 2)
	DeterministicConversationID bool

	// Custom tool detection
	CustomToolsEnabled bool

	// Logging
	LogLevel  string
	LogFormat string

	// Auth-token vault
	VaultSecretFile string

	// Router is loaded exclusively from config.yaml; it has no env override,
	// matching the teacher's model-router-config precedence note.
	Router *RouterConfig `yaml:"router"`
}

// RouterConfig configures custom-tool bounce behavior and the static tool
// sets the U2L envelope advertises to the upstream (spec.md §4.1.1).
type RouterConfig struct {
	ToolBouncePrologue string   `yaml:"tool_bounce_prologue"`
	DefaultTools       []string `yaml:"default_tools"`
	ExternalTools      []string `yaml:"external_tools"`
	DefaultInstruction string   `yaml:"default_instruction"`
}

// AppConfig is the process-wide configuration instance, set once by Load.
//
// Kept as a package singleton for parity with the teacher's AppConfig
// pattern; every other package is still constructed by reference with an
// explicit *Config parameter so tests can build their own.
var AppConfig *Config

// Load builds the Config from environment variables, an optional .env file,
// and a YAML config file, in that precedence order for the fields config.yaml
// supplies. A config file that cannot be opened is logged and skipped; one
// that opens but fails to decode triggers log.Fatal. The caller (cmd/server) translates a failed Validate() into the
// config-validation exit code documented in spec.md §6.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		GinMode:       getEnvOrDefault("GIN_MODE", "release"),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),

		ModelName: getEnvOrDefault("MODEL_NAME", "lumo"),

		UpstreamChatURL:    getEnvOrDefault("UPSTREAM_CHAT_URL", "https://ai.proton.me/api/v1/chat"),
		UpstreamPublicKey:  getEnvOrDefault("UPSTREAM_PUBLIC_KEY", ""),
		UpstreamAppVersion: getEnvOrDefault("UPSTREAM_APPVERSION", "lumo-tamer@1.0.0"),
		UpstreamTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", 60*time.Second),

		GatewayAPIKey: getEnvOrDefault("GATEWAY_API_KEY", ""),

		ConversationStoreMaxSize: getEnvAsInt("CONVERSATION_STORE_MAX_SIZE", 500),

		QueueDepth: getEnvAsInt("QUEUE_DEPTH", 64),

		SyncEnabled:      getEnvOrDefault("SYNC_ENABLED", "false") == "true",
		SyncServerURL:    getEnvOrDefault("SYNC_SERVER_URL", ""),
		SyncPushInterval: getEnvAsDuration("SYNC_PUSH_INTERVAL", 5*time.Second),
		SyncMasterKeyHex: getEnvOrDefault("SYNC_MASTER_KEY_HEX", ""),

		TitleGenerationEnabled: getEnvOrDefault("TITLE_GENERATION_ENABLED", "true") == "true",
		TitleGenerationModel:   getEnvOrDefault("TITLE_GENERATION_MODEL", "lumo"),

		DeterministicConversationID: getEnvOrDefault("DETERMINISTIC_CONVERSATION_ID", "true") == "true",

		CustomToolsEnabled: getEnvOrDefault("CUSTOM_TOOLS_ENABLED", "true") == "true",

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		VaultSecretFile: getEnvOrDefault("VAULT_SECRET_FILE", ""),
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("no config file at %s, using env-only defaults: %v", configFilePath, err)
	} else {
		defer configFile.Close() //nolint:errcheck
		if err := LoadConfigFile(configFile, cfg); err != nil {
			log.Fatalf("failed to load config file: %v", err)
		}
	}

	if cfg.Router == nil {
		cfg.Router = defaultRouterConfig()
	}

	if env := os.Getenv("APP_ENV"); env == "production" {
		cfg.LogFormat = "json"
	}

	AppConfig = cfg
	return cfg
}

func defaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		ToolBouncePrologue: "You may call the caller-supplied tools below by emitting a single JSON object.",
		DefaultTools:       []string{"proton_info"},
		ExternalTools:      []string{"web_search", "weather", "stock", "cryptocurrency"},
		DefaultInstruction: "You are Lumo, a helpful assistant.",
	}
}

// LoadConfigFile decodes YAML from r into cfg, overwriting only the fields
// present in the document (goccy/go-yaml merges onto the existing struct).
func LoadConfigFile(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	return decoder.Decode(cfg)
}

// Validate checks the invariants cmd/server needs before binding a port.
// Returns a non-nil error describing the first violation found.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return errRequired("MODEL_NAME")
	}
	if c.UpstreamChatURL == "" {
		return errRequired("UPSTREAM_CHAT_URL")
	}
	if c.GatewayAPIKey == "" {
		return errRequired("GATEWAY_API_KEY")
	}
	if c.ConversationStoreMaxSize <= 0 {
		return errPositive("CONVERSATION_STORE_MAX_SIZE")
	}
	if c.QueueDepth <= 0 {
		return errPositive("QUEUE_DEPTH")
	}
	if c.SyncEnabled && c.SyncServerURL == "" {
		return errRequired("SYNC_SERVER_URL (sync enabled)")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("warning: failed to parse %s=%q as duration, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("warning: failed to parse %s=%q as int, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

type configError struct {
	msg string
}

func (e *configError) Error() string { return e.msg }

func errRequired(field string) error {
	return &configError{msg: field + " is required"}
}

func errPositive(field string) error {
	return &configError{msg: field + " must be positive"}
}
