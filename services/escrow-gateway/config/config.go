package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the escrow gateway service
type Config struct {
	Port                 string
	MemoryLedger         bool
	EthRPCURL            string
	EscrowContractAddr   string
	ChainID              *big.Int
	SessionPrivateKey    string
	EvaluatorURL         string
	EvaluatorAPIKey      string
	CacheTTL             time.Duration
	TaskWindowSize       int
	FetchTimeout         time.Duration
	AutoApproveThreshold int
	LogLevel             string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Port:               getEnv("PORT", "8080"),
		MemoryLedger:       getEnv("MEMORY_LEDGER", "false") == "true",
		EthRPCURL:          getEnv("ETH_RPC_URL", ""),
		EscrowContractAddr: getEnv("ESCROW_CONTRACT_ADDRESS", ""),
		SessionPrivateKey:  getEnv("SESSION_PRIVATE_KEY", ""),
		EvaluatorURL:       getEnv("EVALUATOR_URL", ""),
		EvaluatorAPIKey:    getEnv("EVALUATOR_API_KEY", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	chainID, err := getEnvInt("CHAIN_ID", 31337)
	if err != nil {
		return nil, err
	}
	config.ChainID = big.NewInt(int64(chainID))

	ttlSeconds, err := getEnvInt("CACHE_TTL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	config.CacheTTL = time.Duration(ttlSeconds) * time.Second

	config.TaskWindowSize, err = getEnvInt("TASK_WINDOW_SIZE", 20)
	if err != nil {
		return nil, err
	}

	fetchSeconds, err := getEnvInt("FETCH_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	config.FetchTimeout = time.Duration(fetchSeconds) * time.Second

	config.AutoApproveThreshold, err = getEnvInt("AUTO_APPROVE_MIN_CONFIDENCE", 80)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.MemoryLedger {
		if c.EthRPCURL == "" {
			return fmt.Errorf("ETH_RPC_URL is required unless MEMORY_LEDGER=true")
		}
		if c.EscrowContractAddr == "" {
			return fmt.Errorf("ESCROW_CONTRACT_ADDRESS is required unless MEMORY_LEDGER=true")
		}
	}

	if c.SessionPrivateKey == "" {
		return fmt.Errorf("SESSION_PRIVATE_KEY is required")
	}

	if c.TaskWindowSize <= 0 {
		return fmt.Errorf("TASK_WINDOW_SIZE must be positive, got: %d", c.TaskWindowSize)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}

	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 100 {
		return fmt.Errorf("AUTO_APPROVE_MIN_CONFIDENCE must be within 0..100, got: %d", c.AutoApproveThreshold)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %v", key, err)
	}
	return parsed, nil
}
