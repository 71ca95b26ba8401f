// Package config provides configuration loading for the orchestrator.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds all orchestrator configuration.
type Config struct {
	// Ledger RPC endpoint.
	RPCURL string `json:"rpc_url"`

	// Ledger contract addresses. JobRegistryAddr is required; the rest are
	// optional collaborators (stake/validation/dispute/reputation).
	JobRegistryAddr   string `json:"job_registry_addr"`
	StakeAddr         string `json:"stake_addr,omitempty"`
	ValidationAddr    string `json:"validation_addr,omitempty"`
	DisputeAddr       string `json:"dispute_addr,omitempty"`
	ReputationAddr    string `json:"reputation_addr,omitempty"`
	AnchorAddr        string `json:"anchor_addr,omitempty"`

	// Filesystem layout.
	IdentityDir        string `json:"identity_dir"`
	CapabilityMatrix   string `json:"capability_matrix_path"`
	EnergyRoot         string `json:"energy_root"`
	AuditLogDir        string `json:"audit_log_dir"`
	WatchdogStateFile  string `json:"watchdog_state_file"`
	AnchorStateFile    string `json:"anchor_state_file"`
	StorageRoot        string `json:"storage_root"`
	StorageGatewayURL  string `json:"storage_gateway_url,omitempty"`

	SkipENS bool `json:"skip_ens"`

	AssignmentPollInterval Duration `json:"assignment_poll_interval"`
	RevealDelay            Duration `json:"reveal_delay"`

	AnchorInterval     Duration `json:"anchor_interval"`
	AnchorMinFileAge   Duration `json:"anchor_min_file_age"`
	AnchorMaxFilesRun  int      `json:"anchor_max_files_per_run"`

	// AnchorSchedule is an optional standard cron expression ("0 */6 * * *")
	// controlling when anchor sweeps run. When empty, AnchorInterval's fixed
	// period is used instead.
	AnchorSchedule string `json:"anchor_schedule,omitempty"`

	WatchdogFailureThreshold int      `json:"watchdog_failure_threshold"`
	WatchdogQuarantine       Duration `json:"watchdog_quarantine"`

	ValidatorLookbackBlocks uint64  `json:"validator_lookback_blocks"`
	ValidatorMinConfidence  float64 `json:"validator_min_confidence"`

	EnergyPolicy EnergyPolicyConfig `json:"energy_policy"`

	TokenDecimals       int     `json:"token_decimals"`
	EnergyCostPerUnit   float64 `json:"energy_cost_per_unit"`
	MinProfitMargin     float64 `json:"min_profit_margin"`
	MaxAgentAnomalyRate float64 `json:"max_agent_anomaly_rate"`
	MaxJobAnomalyRate   float64 `json:"max_job_anomaly_rate"`

	LogLevel string `json:"log_level"`
}

// EnergyPolicyConfig groups the §4.8 threshold-derivation knobs.
type EnergyPolicyConfig struct {
	EfficiencyFloor    float64  `json:"efficiency_floor"`
	EfficiencyCeiling  float64  `json:"efficiency_ceiling"`
	EnergyCeiling      float64  `json:"energy_ceiling"`
	EfficiencyBias     float64  `json:"efficiency_bias"`
	EnergyBias         float64  `json:"energy_bias"`
	EfficiencySigma    float64  `json:"efficiency_sigma"`
	EnergySigma        float64  `json:"energy_sigma"`
	LookbackJobs       int      `json:"lookback_jobs"`
	RefreshInterval    Duration `json:"refresh_interval"`
	FallbackToGlobal   bool     `json:"fallback_to_global"`
	AnomalyWeight      float64  `json:"anomaly_weight"`
	VolatilityWeight   float64  `json:"volatility_weight"`
	BaseProfitMargin   float64  `json:"base_profit_margin"`
	MaxProfitMargin    float64  `json:"max_profit_margin"`
}

// Default returns configuration with the spec's stated defaults.
func Default() Config {
	return Config{
		RPCURL:            "http://127.0.0.1:8545",
		IdentityDir:       "/var/lib/agia/identities",
		CapabilityMatrix:  "/var/lib/agia/capability-matrix.yaml",
		EnergyRoot:        "/var/lib/agia/energy",
		AuditLogDir:       "/var/lib/agia/audit",
		WatchdogStateFile: "/var/lib/agia/watchdog.json",
		AnchorStateFile:   "/var/lib/agia/anchor-state.json",
		StorageRoot:       "/var/lib/agia/storage",

		AssignmentPollInterval: Duration(15 * secondsUnit),
		RevealDelay:            Duration(60 * secondsUnit),

		AnchorInterval:    Duration(6 * 60 * 60 * secondsUnit),
		AnchorMinFileAge:  Duration(15 * 60 * secondsUnit),
		AnchorMaxFilesRun: 4,

		WatchdogFailureThreshold: 3,
		WatchdogQuarantine:       Duration(15 * 60 * secondsUnit),

		ValidatorLookbackBlocks: 200_000,
		ValidatorMinConfidence:  0.5,

		EnergyPolicy: EnergyPolicyConfig{
			EfficiencyFloor:   0,
			EfficiencyCeiling: 1,
			EnergyCeiling:     1 << 30,
			EfficiencyBias:    1,
			EnergyBias:        1,
			EfficiencySigma:   1,
			EnergySigma:       1,
			LookbackJobs:      50,
			RefreshInterval:   Duration(30 * secondsUnit),
			FallbackToGlobal:  true,
			AnomalyWeight:     0.2,
			VolatilityWeight:  0.2,
			BaseProfitMargin:  0.05,
			MaxProfitMargin:   1,
		},

		TokenDecimals:       18,
		EnergyCostPerUnit:   1,
		MinProfitMargin:     0.05,
		MaxAgentAnomalyRate: 0.5,
		MaxJobAnomalyRate:   0.7,

		LogLevel: "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("AGIA_RPC_URL", &cfg.RPCURL)
	str("AGIA_JOB_REGISTRY_ADDR", &cfg.JobRegistryAddr)
	str("AGIA_STAKE_ADDR", &cfg.StakeAddr)
	str("AGIA_VALIDATION_ADDR", &cfg.ValidationAddr)
	str("AGIA_DISPUTE_ADDR", &cfg.DisputeAddr)
	str("AGIA_REPUTATION_ADDR", &cfg.ReputationAddr)
	str("AGIA_ANCHOR_ADDR", &cfg.AnchorAddr)
	str("AGIA_IDENTITY_DIR", &cfg.IdentityDir)
	str("AGIA_CAPABILITY_MATRIX", &cfg.CapabilityMatrix)
	str("AGIA_ENERGY_ROOT", &cfg.EnergyRoot)
	str("AGIA_AUDIT_LOG_DIR", &cfg.AuditLogDir)
	str("AGIA_WATCHDOG_STATE_FILE", &cfg.WatchdogStateFile)
	str("AGIA_ANCHOR_STATE_FILE", &cfg.AnchorStateFile)
	str("AGIA_STORAGE_ROOT", &cfg.StorageRoot)
	str("AGIA_STORAGE_GATEWAY_URL", &cfg.StorageGatewayURL)
	str("AGIA_LOG_LEVEL", &cfg.LogLevel)
	str("AGIA_ANCHOR_SCHEDULE", &cfg.AnchorSchedule)

	if v := os.Getenv("AGIA_SKIP_ENS"); v != "" {
		cfg.SkipENS = v == "true" || v == "1"
	}

	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	dur("AGIA_ASSIGNMENT_POLL_INTERVAL", &cfg.AssignmentPollInterval)
	dur("AGIA_REVEAL_DELAY", &cfg.RevealDelay)
	dur("AGIA_ANCHOR_INTERVAL", &cfg.AnchorInterval)
	dur("AGIA_ANCHOR_MIN_FILE_AGE", &cfg.AnchorMinFileAge)
	dur("AGIA_WATCHDOG_QUARANTINE", &cfg.WatchdogQuarantine)
	dur("AGIA_ENERGY_POLICY_REFRESH_INTERVAL", &cfg.EnergyPolicy.RefreshInterval)

	intv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	intv("AGIA_ANCHOR_MAX_FILES_PER_RUN", &cfg.AnchorMaxFilesRun)
	intv("AGIA_WATCHDOG_FAILURE_THRESHOLD", &cfg.WatchdogFailureThreshold)
	intv("AGIA_TOKEN_DECIMALS", &cfg.TokenDecimals)

	if v := os.Getenv("AGIA_VALIDATOR_LOOKBACK_BLOCKS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ValidatorLookbackBlocks = n
		}
	}

	f64 := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}
	f64("AGIA_VALIDATOR_MIN_CONFIDENCE", &cfg.ValidatorMinConfidence)
	f64("AGIA_ENERGY_COST_PER_UNIT", &cfg.EnergyCostPerUnit)
	f64("AGIA_MIN_PROFIT_MARGIN", &cfg.MinProfitMargin)
	f64("AGIA_MAX_AGENT_ANOMALY_RATE", &cfg.MaxAgentAnomalyRate)
	f64("AGIA_MAX_JOB_ANOMALY_RATE", &cfg.MaxJobAnomalyRate)
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
