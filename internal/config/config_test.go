package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigYAMLFlattensNestedKeys(t *testing.T) {
	body := []byte(`
whirlpool:
  pool-cache-ttl: 1m
  monitor:
    max_errors: 7
indexer:
  pools:
    - whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc
    - metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s
solana:
  skip_preflight: true
`)
	values, err := parseConfigYAML(body)
	require.NoError(t, err)
	assert.Equal(t, "1m", values["WHIRLPOOL_POOL_CACHE_TTL"])
	assert.Equal(t, "7", values["WHIRLPOOL_MONITOR_MAX_ERRORS"])
	assert.Equal(t, "true", values["SOLANA_SKIP_PREFLIGHT"])
	assert.Equal(t,
		"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc,metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s",
		values["INDEXER_POOLS"])
}

func TestNormalizeKeySegment(t *testing.T) {
	assert.Equal(t, "POOL_CACHE_TTL", normalizeKeySegment(" pool-cache.ttl "))
	assert.Equal(t, "", normalizeKeySegment("--"))
}

func TestParsePubkeyListDeduplicates(t *testing.T) {
	pks, err := parsePubkeyList("X", "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc, whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")
	require.NoError(t, err)
	require.Len(t, pks, 1)
	assert.Equal(t, DefaultWhirlpoolProgramID, pks[0])

	_, err = parsePubkeyList("X", "not-a-key")
	require.ErrorContains(t, err, "invalid X entry")
}

func TestEnvHelpersReadEnvironment(t *testing.T) {
	t.Setenv("CONFIG_TEST_DURATION", "250ms")
	t.Setenv("CONFIG_TEST_COMMITMENT", "Finalized")
	t.Setenv("CONFIG_TEST_FLOAT", "-1")

	d, err := envDuration("CONFIG_TEST_DURATION", 0)
	require.NoError(t, err)
	assert.Equal(t, "250ms", d.String())

	c, err := envCommitment("CONFIG_TEST_COMMITMENT", rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, rpc.CommitmentFinalized, c)

	_, err = envFloat("CONFIG_TEST_FLOAT", 0)
	require.Error(t, err)
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", deriveWSURL("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "ws://127.0.0.1:8899", deriveWSURL("http://127.0.0.1:8899"))
}

func TestDefaultWhirlpoolConfig(t *testing.T) {
	cfg := DefaultWhirlpoolConfig()
	assert.Equal(t, 20, cfg.TxSampleSize)
	assert.Equal(t, 3, cfg.KlineMaxRetries)
	assert.Equal(t, 5, cfg.MonitorMaxErrors)
	assert.Equal(t, cfg.StableSwapProgramID, cfg.SwapProgramV2ID)
}

func TestLoadTraderConfigReadsEnv(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "http://127.0.0.1:8899")
	t.Setenv("TRADER_SLIPPAGE_PERCENT", "1.5")
	t.Setenv("WHIRLPOOL_KLINE_MAX_RETRIES", "-1")

	cfg, err := LoadTraderConfig()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, cfg.SlippagePercent, 1e-12)
	assert.Equal(t, -1, cfg.Whirlpool.KlineMaxRetries)

	source, err := CurrentConfigSource()
	require.NoError(t, err)
	assert.NotEmpty(t, source.Phase)
}

func TestReadRuntimeFile(t *testing.T) {
	values, info, err := readRuntimeFile("nowhere", "")
	require.NoError(t, err)
	assert.False(t, info.Loaded)
	assert.Equal(t, "nowhere", info.Phase)
	assert.Empty(t, values)

	_, _, err = readRuntimeFile("", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config file")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("whirlpool:\n  kline_max_retries: 5\n"), 0o600))
	values, info, err = readRuntimeFile("", path)
	require.NoError(t, err)
	assert.True(t, info.Loaded)
	assert.Equal(t, "local", info.Phase)
	assert.Equal(t, "5", values["WHIRLPOOL_KLINE_MAX_RETRIES"])
}
