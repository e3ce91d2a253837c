/*

This file contains the risk profile file format: the per-deployment override of the allocation
planner's risk limits.

Profiles are read with viper (YAML, JSON or TOML by extension) and every key can be overridden with
a REBALANCER_ prefixed environment variable, e.g. REBALANCER_PLATFORM_FEE_BPS=25. Treasuries are
base58 identities.

*/

package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/rebalancer/internal/types"
)

const riskProfileEnvPrefix = "REBALANCER"

// RiskProfile is the file representation of types.RiskLimits.
type RiskProfile struct {
	MaxSingleStrategyBps uint64 `mapstructure:"max_single_strategy_bps" yaml:"max_single_strategy_bps"`
	MinSingleStrategyBps uint64 `mapstructure:"min_single_strategy_bps" yaml:"min_single_strategy_bps"`
	PlatformFeeBps       uint64 `mapstructure:"platform_fee_bps" yaml:"platform_fee_bps"`
	ManagerFeeBps        uint64 `mapstructure:"manager_fee_bps" yaml:"manager_fee_bps"`
	RiskToleranceBps     uint64 `mapstructure:"risk_tolerance_bps" yaml:"risk_tolerance_bps"`
	PlatformTreasury     string `mapstructure:"platform_treasury" yaml:"platform_treasury,omitempty"`
	ManagerTreasury      string `mapstructure:"manager_treasury" yaml:"manager_treasury,omitempty"`
}

// ProfileFromLimits renders limits in file form. Zero treasuries are left empty.
func ProfileFromLimits(limits types.RiskLimits) RiskProfile {
	profile := RiskProfile{
		MaxSingleStrategyBps: limits.MaxSingleStrategyBps,
		MinSingleStrategyBps: limits.MinSingleStrategyBps,
		PlatformFeeBps:       limits.PlatformFeeBps,
		ManagerFeeBps:        limits.ManagerFeeBps,
		RiskToleranceBps:     limits.RiskToleranceBps,
	}
	if !limits.PlatformTreasury.IsZero() {
		profile.PlatformTreasury = limits.PlatformTreasury.String()
	}
	if !limits.ManagerTreasury.IsZero() {
		profile.ManagerTreasury = limits.ManagerTreasury.String()
	}
	return profile
}

// Limits converts the profile and validates it.
func (p RiskProfile) Limits() (types.RiskLimits, error) {
	limits := types.RiskLimits{
		MaxSingleStrategyBps: p.MaxSingleStrategyBps,
		MinSingleStrategyBps: p.MinSingleStrategyBps,
		PlatformFeeBps:       p.PlatformFeeBps,
		ManagerFeeBps:        p.ManagerFeeBps,
		RiskToleranceBps:     p.RiskToleranceBps,
	}
	var err error
	if p.PlatformTreasury != "" {
		if limits.PlatformTreasury, err = types.ParseID(p.PlatformTreasury); err != nil {
			return types.RiskLimits{}, fmt.Errorf("%w: platform treasury: %v", types.ErrInvalidRiskLimits, err)
		}
	}
	if p.ManagerTreasury != "" {
		if limits.ManagerTreasury, err = types.ParseID(p.ManagerTreasury); err != nil {
			return types.RiskLimits{}, fmt.Errorf("%w: manager treasury: %v", types.ErrInvalidRiskLimits, err)
		}
	}
	if err := limits.Validate(); err != nil {
		return types.RiskLimits{}, err
	}
	return limits, nil
}

// LoadRiskProfile reads a risk profile file. Keys missing from the file keep DefaultRiskLimits.
func LoadRiskProfile(path string) (types.RiskLimits, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(riskProfileEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as the key list AutomaticEnv needs for Unmarshal.
	defaults := ProfileFromLimits(DefaultRiskLimits)
	v.SetDefault("max_single_strategy_bps", defaults.MaxSingleStrategyBps)
	v.SetDefault("min_single_strategy_bps", defaults.MinSingleStrategyBps)
	v.SetDefault("platform_fee_bps", defaults.PlatformFeeBps)
	v.SetDefault("manager_fee_bps", defaults.ManagerFeeBps)
	v.SetDefault("risk_tolerance_bps", defaults.RiskToleranceBps)
	v.SetDefault("platform_treasury", defaults.PlatformTreasury)
	v.SetDefault("manager_treasury", defaults.ManagerTreasury)

	if err := v.ReadInConfig(); err != nil {
		return types.RiskLimits{}, fmt.Errorf("failed to read risk profile %s: %w", path, err)
	}

	var profile RiskProfile
	if err := v.Unmarshal(&profile); err != nil {
		return types.RiskLimits{}, fmt.Errorf("failed to decode risk profile %s: %w", path, err)
	}
	limits, err := profile.Limits()
	if err != nil {
		return types.RiskLimits{}, err
	}

	log.Info().
		Str("path", path).
		Uint64("maxSingleBps", limits.MaxSingleStrategyBps).
		Uint64("minSingleBps", limits.MinSingleStrategyBps).
		Uint64("platformFeeBps", limits.PlatformFeeBps).
		Uint64("managerFeeBps", limits.ManagerFeeBps).
		Uint64("riskToleranceBps", limits.RiskToleranceBps).
		Msg("Risk profile loaded")
	return limits, nil
}

// WriteRiskProfile encodes limits as a YAML risk profile that LoadRiskProfile reads back.
func WriteRiskProfile(w io.Writer, limits types.RiskLimits) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(ProfileFromLimits(limits)); err != nil {
		return fmt.Errorf("failed to encode risk profile: %w", err)
	}
	return enc.Close()
}
