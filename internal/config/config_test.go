package config

import (
	"testing"
	"time"

	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProtocolFile(t *testing.T) {
	p, err := LoadProtocolFile("testdata/protocol.yaml")
	require.NoError(t, err)

	def := state.DefaultParams()
	assert.Equal(t, int32(10), p.TickSpacing)
	assert.Equal(t, int32(3), p.LiquidationPenalty)
	assert.Equal(t, fpmath.LeverageScale.MulRaw(8).String(), p.MaxLeverage.String())
	assert.Equal(t, fpmath.TokensScale.QuoRaw(4).String(), p.SecurityDeposit.String())
	assert.Equal(t, "200", p.FundingSF.String())
	assert.Equal(t, fpmath.FundingRateScale.QuoRaw(100).String(), p.MaxFundingRatePerDay.String())
	assert.Equal(t, int64(300), p.Imbalance.OpenBps)
	assert.Equal(t, def.Imbalance.DepositBps, p.Imbalance.DepositBps)
	assert.Equal(t, int64(700), p.Imbalance.CloseBps)
	assert.Equal(t, 30*time.Second, p.ValidationDelay)
	assert.Equal(t, 2*time.Hour, p.Deadlines.OnChainValidatorDeadline)
	assert.Equal(t, def.Deadlines.LowLatencyDelay, p.Deadlines.LowLatencyDelay)
	assert.Equal(t, 5, p.LiquidationIterations)

	// untouched fields keep their defaults
	assert.Equal(t, def.MinLeverage.String(), p.MinLeverage.String())
	assert.Equal(t, def.MinLongPosition.String(), p.MinLongPosition.String())
	assert.Equal(t, def.PositionFeeBps, p.PositionFeeBps)
}

func TestLoadProtocolFile_EmptyPathIsDefault(t *testing.T) {
	p, err := LoadProtocolFile("")
	require.NoError(t, err)
	assert.Equal(t, state.DefaultParams().TickSpacing, p.TickSpacing)
}

func TestLoadProtocolFile_Missing(t *testing.T) {
	_, err := LoadProtocolFile("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestParseProtocol_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"too many decimals", `funding_sf: "0.1234"`},
		{"negative amount", `security_deposit: "-1"`},
		{"not a decimal", `max_leverage: "ten"`},
		{"iterations over cap", `liquidation_iterations: 11`},
		{"penalty over cap", `liquidation_penalty: 16`},
		{"bad duration", `validation_delay: soon`},
		{"malformed", `tick_spacing: [1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseProtocol([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDescribe_RoundTripsFile(t *testing.T) {
	p, err := LoadProtocolFile("testdata/protocol.yaml")
	require.NoError(t, err)

	d := Describe(p)
	assert.Equal(t, "8", d["max_leverage"])
	assert.Equal(t, "0.25", d["security_deposit"])
	assert.Equal(t, "0.2", d["funding_sf"])
	assert.Equal(t, "30s", d["validation_delay"])
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	t.Setenv("USDN_NATS_URL", "nats://localhost:4222")

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, OracleModeFeed, cfg.OracleMode)
	assert.Equal(t, time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, 256, cfg.EventBatchSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100_000, cfg.IdempotencyCapacity)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.EnableFaucet)
}

func TestLoadServiceConfig_Overrides(t *testing.T) {
	t.Setenv("USDN_ORACLE_MODE", "http")
	t.Setenv("USDN_ORACLE_URL", "http://oracle:8000")
	t.Setenv("USDN_SNAPSHOT_INTERVAL", "15s")
	t.Setenv("USDN_HTTP_ADDR", ":18080")
	t.Setenv("USDN_ENABLE_FAUCET", "true")

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, OracleModeHTTP, cfg.OracleMode)
	assert.Equal(t, "http://oracle:8000", cfg.OracleURL)
	assert.Equal(t, 15*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.True(t, cfg.EnableFaucet)
}

func TestServiceConfig_Validate(t *testing.T) {
	base := ServiceConfig{
		OracleMode:          OracleModeFeed,
		NATSURL:             "nats://x",
		SnapshotInterval:    time.Second,
		EventBatchSize:      1,
		IdempotencyCapacity: 1,
		HistoryCapacity:     1,
	}
	require.NoError(t, base.Validate())

	cases := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"feed without nats", func(c *ServiceConfig) { c.NATSURL = "" }},
		{"http without url", func(c *ServiceConfig) { c.OracleMode = OracleModeHTTP }},
		{"unknown mode", func(c *ServiceConfig) { c.OracleMode = "carrier-pigeon" }},
		{"zero interval", func(c *ServiceConfig) { c.SnapshotInterval = 0 }},
		{"zero batch", func(c *ServiceConfig) { c.EventBatchSize = 0 }},
		{"negative max age", func(c *ServiceConfig) { c.OracleMaxAge = -time.Second }},
		{"zero history", func(c *ServiceConfig) { c.HistoryCapacity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
