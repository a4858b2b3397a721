package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"contribledger/internal/models"

	sdkmath "cosmossdk.io/math"
)

// ScoreScale is the fixed scale of every collaborator score and of the
// composite score.
const ScoreScale = 10000

type EpochConfig struct {
	Name           string         `json:"name"`
	InitialBalance sdkmath.Int    `json:"initial_balance"`
	Threshold      int64          `json:"threshold"`
	Eligible       []models.Metal `json:"eligible"`
	// HalvingInterval is in cumulative density units. Exactly one epoch has
	// a non-zero interval.
	HalvingInterval int64 `json:"halving_interval,omitempty"`
}

type Config struct {
	// Epochs are ordered from strictest (highest quality only) to open.
	Epochs      []EpochConfig          `json:"epochs"`
	Multipliers map[models.Metal]int64 `json:"multipliers"`
	// HistoryLimit bounds the retained allocation records; 0 keeps all.
	HistoryLimit int `json:"history_limit"`
}

func DefaultConfig() Config {
	return Config{
		Epochs: []EpochConfig{
			{
				Name:            "founder",
				InitialBalance:  sdkmath.NewInt(45_000_000_000_000),
				Threshold:       8000,
				Eligible:        []models.Metal{models.MetalGold},
				HalvingInterval: 1_000_000,
			},
			{
				Name:           "pioneer",
				InitialBalance: sdkmath.NewInt(22_500_000_000_000),
				Threshold:      6000,
				Eligible:       []models.Metal{models.MetalGold, models.MetalSilver},
			},
			{
				Name:           "community",
				InitialBalance: sdkmath.NewInt(11_250_000_000_000),
				Threshold:      5000,
				Eligible:       []models.Metal{models.MetalGold, models.MetalSilver, models.MetalCopper},
			},
			{
				Name:           "ecosystem",
				InitialBalance: sdkmath.NewInt(11_250_000_000_000),
				Threshold:      4000,
				Eligible:       []models.Metal{models.MetalGold, models.MetalSilver, models.MetalCopper},
			},
		},
		Multipliers: map[models.Metal]int64{
			models.MetalGold:   1000,
			models.MetalSilver: 10,
			models.MetalCopper: 1,
		},
		HistoryLimit: 10000,
	}
}

// LoadConfigFile reads a tokenomics override. Fields absent from the file
// keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read tokenomics file: %w", err)
	}
	var over struct {
		Epochs       []EpochConfig          `json:"epochs"`
		Multipliers  map[models.Metal]int64 `json:"multipliers"`
		HistoryLimit *int                   `json:"history_limit"`
	}
	if err := json.Unmarshal(b, &over); err != nil {
		return Config{}, fmt.Errorf("decode tokenomics file: %w", err)
	}
	if over.Epochs != nil {
		cfg.Epochs = over.Epochs
	}
	for m, mult := range over.Multipliers {
		cfg.Multipliers[m] = mult
	}
	if over.HistoryLimit != nil {
		cfg.HistoryLimit = *over.HistoryLimit
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Epochs) == 0 {
		return fmt.Errorf("tokenomics: at least one epoch is required")
	}
	seen := map[string]struct{}{}
	halving := 0
	for _, e := range c.Epochs {
		if e.Name == "" {
			return fmt.Errorf("tokenomics: epoch name is required")
		}
		if _, ok := seen[e.Name]; ok {
			return fmt.Errorf("tokenomics: duplicate epoch %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if e.InitialBalance.IsNil() || e.InitialBalance.IsNegative() {
			return fmt.Errorf("tokenomics: epoch %q balance must be non-negative", e.Name)
		}
		if e.Threshold < 0 || e.Threshold > ScoreScale {
			return fmt.Errorf("tokenomics: epoch %q threshold out of range", e.Name)
		}
		if e.HalvingInterval < 0 {
			return fmt.Errorf("tokenomics: epoch %q halving interval must be positive", e.Name)
		}
		if e.HalvingInterval > 0 {
			halving++
		}
		for _, m := range e.Eligible {
			if _, ok := c.Multipliers[m]; !ok {
				return fmt.Errorf("tokenomics: epoch %q lists metal %q without a multiplier", e.Name, m)
			}
		}
	}
	if halving != 1 {
		return fmt.Errorf("tokenomics: exactly one epoch must carry a halving interval, got %d", halving)
	}
	for m, mult := range c.Multipliers {
		if _, err := models.ParseMetal(string(m)); err != nil {
			return fmt.Errorf("tokenomics: %w", err)
		}
		if mult <= 0 {
			return fmt.Errorf("tokenomics: multiplier for %q must be positive", m)
		}
	}
	return nil
}
