package apiconfig

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"validator-engine/logging"
)

const envPrefix = "VALIDATOR_"

// ConfigManager loads and owns the process configuration. Precedence, lowest
// to highest: built-in defaults, yaml file, VALIDATOR_* environment variables.
type ConfigManager struct {
	currentConfig Config
	configPath    string
	mutex         sync.Mutex
}

func LoadDefaultConfigManager() (*ConfigManager, error) {
	configPath := os.Getenv("VALIDATOR_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	manager := &ConfigManager{configPath: configPath}
	if err := manager.Load(); err != nil {
		return nil, err
	}
	return manager, nil
}

func (cm *ConfigManager) Load() error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return fmt.Errorf("loading default config: %w", err)
	}

	if _, err := os.Stat(cm.configPath); err == nil {
		if err := k.Load(file.Provider(cm.configPath), yaml.Parser()); err != nil {
			return fmt.Errorf("loading config file %s: %w", cm.configPath, err)
		}
	} else {
		logging.Warn("Config file not found, using defaults and environment", logging.Config,
			"path", cm.configPath)
	}

	// VALIDATOR_LEDGER_URL -> ledger.url
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return fmt.Errorf("loading env config: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(config); err != nil {
		return err
	}

	cm.currentConfig = config
	return nil
}

func validate(config Config) error {
	if config.Ledger.ValidatorId == "" {
		return fmt.Errorf("ledger.validator_id must be set")
	}
	if config.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got %d", config.Sandbox.MaxConcurrent)
	}
	if config.Coordination.PageLimit <= 0 {
		return fmt.Errorf("coordination.page_limit must be positive, got %d", config.Coordination.PageLimit)
	}
	return nil
}

func (cm *ConfigManager) GetConfig() *Config {
	return &cm.currentConfig
}

func (cm *ConfigManager) GetApiConfig() ApiConfig {
	return cm.currentConfig.Api
}

func (cm *ConfigManager) GetCoordinationConfig() CoordinationConfig {
	return cm.currentConfig.Coordination
}

func (cm *ConfigManager) GetSandboxConfig() SandboxConfig {
	return cm.currentConfig.Sandbox
}

func (cm *ConfigManager) GetLedgerConfig() LedgerConfig {
	return cm.currentConfig.Ledger
}

func (cm *ConfigManager) GetSchedulerConfig() SchedulerConfig {
	return cm.currentConfig.Scheduler
}

func (cm *ConfigManager) GetScoringConfig() ScoringConfig {
	return cm.currentConfig.Scoring
}

func (cm *ConfigManager) GetStateConfig() StateConfig {
	return cm.currentConfig.State
}
