package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.FTMin != DefaultFTMin {
		t.Fatalf("FTMin = %v, want default %v", cfg.Risk.FTMin, DefaultFTMin)
	}
	if cfg.Risk.SEMin != DefaultSEMin || cfg.Risk.SEMax != DefaultSEMax {
		t.Fatalf("SE band = [%v, %v], want defaults", cfg.Risk.SEMin, cfg.Risk.SEMax)
	}
	if cfg.Execution.TradeAmountInWei != "1000000000000000000" {
		t.Fatalf("TradeAmountInWei = %q", cfg.Execution.TradeAmountInWei)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "bot.yaml", `
signals:
  ft_min: 2.5
  ip_min_bps: 8
ops_guards:
  daily_loss_cap_usd: 40
execution:
  slippage_bps: 75
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.FTMin != 2.5 || cfg.Risk.IPMinBps != 8 {
		t.Fatalf("signals = %v/%v", cfg.Risk.FTMin, cfg.Risk.IPMinBps)
	}
	if cfg.Risk.DailyLossCapUSD != 40 {
		t.Fatalf("DailyLossCapUSD = %v", cfg.Risk.DailyLossCapUSD)
	}
	if cfg.Execution.SlippageBps != 75 {
		t.Fatalf("SlippageBps = %d", cfg.Execution.SlippageBps)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	// Everything the file omits keeps its default.
	if cfg.Risk.SEMax != DefaultSEMax {
		t.Fatalf("SEMax = %v, want default", cfg.Risk.SEMax)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "bot.yaml", "signals:\n  ft_min: 2.5\n")
	t.Setenv("TOKBOT_FT_MIN", "3.1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.FTMin != 3.1 {
		t.Fatalf("FTMin = %v, want env value 3.1", cfg.Risk.FTMin)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "bot.toml", "whatever")
	if _, err := Load(path); err == nil {
		t.Fatal("toml config must be rejected")
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ft_min zero", func(c *Config) { c.Risk.FTMin = 0 }, "TOKBOT_FT_MIN"},
		{"inverted SE band", func(c *Config) { c.Risk.SEMin = 3; c.Risk.SEMax = 1 }, "SE band"},
		{"drain pct over 100", func(c *Config) { c.Risk.LDDrainExitPct = 150 }, "ld_drain_exit_pct"},
		{"fee out of range", func(c *Config) { c.Execution.PoolFeeBps = 10000 }, "pool_fee_bps"},
		{"trade amount not wei", func(c *Config) { c.Execution.TradeAmountInWei = "1.5e18" }, "trade_amount_in_wei"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateLiveRequiresChainConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateLive(); err == nil {
		t.Fatal("empty chain config must not pass live validation")
	}

	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.ChainID = 1
	cfg.Chain.BotPK = "ab"
	cfg.Chain.PairAddress = "0x1"
	cfg.Chain.RouterAddress = "0x2"
	cfg.Chain.Token0 = "0x3"
	cfg.Chain.Token1 = "0x4"
	if err := cfg.ValidateLive(); err != nil {
		t.Fatalf("complete chain config rejected: %v", err)
	}
}
