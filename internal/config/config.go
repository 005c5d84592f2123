package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is loaded in three layers: an optional TOML file named by
// CONFIG_FILE, then environment variables, then defaults for whatever is
// still unset.
type Config struct {
	Port        string `toml:"port" env:"PORT"`
	Environment string `toml:"environment" env:"ENVIRONMENT"`
	LogLevelRaw string `toml:"log_level" env:"LOG_LEVEL"`
	LogFile     string `toml:"log_file" env:"LOG_FILE"`

	LLMProvider     string `toml:"llm_provider" env:"LLM_PROVIDER"` // anthropic, openai, ollama, mock
	ModelName       string `toml:"model_name" env:"MODEL_NAME"`
	AnthropicAPIKey string `toml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `toml:"openai_api_key" env:"OPENAI_API_KEY"`
	OllamaURL       string `toml:"ollama_url" env:"OLLAMA_URL"`

	LedgerBackend   string `toml:"ledger_backend" env:"LEDGER_BACKEND"` // evm, devnet
	EVMRPCURL       string `toml:"evm_rpc_url" env:"EVM_RPC_URL"`
	EVMChainID      int64  `toml:"evm_chain_id" env:"EVM_CHAIN_ID"`
	ContractAddress string `toml:"contract_address" env:"CONTRACT_ADDRESS"`
	SignerKey       string `toml:"signer_key" env:"SIGNER_KEY"`
	OwnerAddress    string `toml:"owner_address" env:"OWNER_ADDRESS"`

	MetadataBackend string `toml:"metadata_backend" env:"METADATA_BACKEND"` // pinata, devnet
	PinataJWT       string `toml:"pinata_jwt" env:"PINATA_JWT"`
	PinataAPIURL    string `toml:"pinata_api_url" env:"PINATA_API_URL"`
	IPFSGatewayURL  string `toml:"ipfs_gateway_url" env:"IPFS_GATEWAY_URL"`

	DevnetDBPath string `toml:"devnet_db_path" env:"DEVNET_DB_PATH"`
	RedisURL     string `toml:"redis_url" env:"REDIS_URL"`

	NarratorTimeout   time.Duration `toml:"narrator_timeout" env:"NARRATOR_TIMEOUT"`
	LedgerTimeout     time.Duration `toml:"ledger_timeout" env:"LEDGER_TIMEOUT"`
	MetadataTimeout   time.Duration `toml:"metadata_timeout" env:"METADATA_TIMEOUT"`
	TurnRatePerMinute int           `toml:"turn_rate_per_minute" env:"TURN_RATE_PER_MINUTE"`
	HistoryLimit      int           `toml:"history_limit" env:"HISTORY_LIMIT"`

	LogLevel slog.Level `toml:"-" env:"-"`
}

// Load reads the configuration. It fails on an unreadable config file, a
// malformed variable or an invalid combination of settings.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Port, "8080")
	setDefault(&c.Environment, "development")
	setDefault(&c.LogLevelRaw, "info")
	setDefault(&c.LLMProvider, "anthropic")
	setDefault(&c.LedgerBackend, "devnet")
	setDefault(&c.MetadataBackend, "devnet")
	setDefault(&c.PinataAPIURL, "https://api.pinata.cloud")
	setDefault(&c.IPFSGatewayURL, "https://ipfs.io/ipfs/")
	setDefault(&c.OllamaURL, "http://localhost:11434")
	setDefault(&c.DevnetDBPath, "dungeon-ledger.db")

	if c.ModelName == "" {
		switch strings.ToLower(c.LLMProvider) {
		case "anthropic":
			c.ModelName = "claude-3-5-haiku-latest"
		case "openai":
			c.ModelName = "gpt-4o-mini"
		case "ollama":
			c.ModelName = "llama3.1"
		default:
			c.ModelName = "mock"
		}
	}

	if c.EVMChainID == 0 {
		c.EVMChainID = 31337
	}
	if c.NarratorTimeout == 0 {
		c.NarratorTimeout = 90 * time.Second
	}
	if c.LedgerTimeout == 0 {
		c.LedgerTimeout = 60 * time.Second
	}
	if c.MetadataTimeout == 0 {
		c.MetadataTimeout = 30 * time.Second
	}
	if c.TurnRatePerMinute == 0 {
		c.TurnRatePerMinute = 20
	}

	c.LLMProvider = strings.ToLower(c.LLMProvider)
	c.LedgerBackend = strings.ToLower(c.LedgerBackend)
	c.MetadataBackend = strings.ToLower(c.MetadataBackend)
	c.LogLevel = parseLogLevel(c.LogLevelRaw)
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when using anthropic provider"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when using openai provider"))
		}
	case "ollama", "mock":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.LedgerBackend {
	case "evm":
		if c.EVMRPCURL == "" || c.ContractAddress == "" || c.SignerKey == "" {
			errs = append(errs, errors.New("EVM_RPC_URL, CONTRACT_ADDRESS and SIGNER_KEY are required when using evm ledger"))
		}
	case "devnet":
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend))
	}

	switch c.MetadataBackend {
	case "pinata":
		if c.PinataJWT == "" {
			errs = append(errs, errors.New("PINATA_JWT is required when using pinata metadata backend"))
		}
	case "devnet":
	default:
		errs = append(errs, fmt.Errorf("unsupported METADATA_BACKEND %q", c.MetadataBackend))
	}

	if c.TurnRatePerMinute < 0 {
		errs = append(errs, errors.New("TURN_RATE_PER_MINUTE cannot be negative"))
	}

	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
