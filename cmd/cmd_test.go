package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/utils/testutils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Pool.Address = testutils.Pool.Hex()
	cfg.Admins = []string{testutils.Admin.Hex()}
	cfg.AuthorizedCallers = []string{testutils.Caller.Hex()}
	cfg.Assets = []config.AssetConfig{{
		Address:               testutils.AssetA.Hex(),
		MinAmount:             "100",
		MaxAmount:             "10000",
		BasePremiumRateBps:    10,
		DynamicPremiumRateBps: 5,
	}}
	cfg.Store.Backend = store.KindPebble
	cfg.Store.Path = filepath.Join(dir, "state")
	cfg.Audit.LogEvents = false
	cfg.Audit.Journal = true
	cfg.Audit.JournalDir = filepath.Join(dir, "audit")
	cfg.Metrics.Enabled = false

	path := filepath.Join(dir, "flashvault.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashvault.yaml")

	out, err := run(t, "init", "--config", path, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, config.ExampleAsset().Address, cfg.Assets[0].Address)

	_, err = run(t, "init", "--config", path, "--force=false")
	assert.Error(t, err)

	_, err = run(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestPoolWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	asset := testutils.AssetA.Hex()
	caller := testutils.Caller.Hex()

	_, err := run(t, "admin", "credit", "--config", path, "--asset", asset, "--account", testutils.Admin.Hex(), "--amount", "100000")
	require.NoError(t, err)
	out, err := run(t, "admin", "deposit", "--config", path, "--asset", asset, "--amount", "50000")
	require.NoError(t, err)
	assert.Contains(t, out, "deposited 50000")

	out, err = run(t, "premium", "10000", "--config", path, "--asset", asset)
	require.NoError(t, err)
	assert.Contains(t, out, "premium: 15")
	assert.Contains(t, out, "owed:    10015")

	t.Run("scratch simulation leaves no trace", func(t *testing.T) {
		out, err := run(t, "simulate", "--config", path, "--caller", caller, "--asset", asset,
			"--amount", "10000", "--payload", "0xdeadbeef", "--fund", "--commit=false", "--no-repay=false")
		require.NoError(t, err)
		assert.Contains(t, out, "result:  committed")

		out, err = run(t, "liquidity", "--config", path, "--asset", asset)
		require.NoError(t, err)
		assert.Contains(t, out, "loan_count:     0")
	})

	t.Run("zero premium loan", func(t *testing.T) {
		out, err := run(t, "simulate", "--config", path, "--caller", caller, "--asset", asset,
			"--amount", "999", "--payload", "", "--fund", "--commit=false", "--no-repay=false")
		require.NoError(t, err)
		assert.Contains(t, out, "result:  committed")
		assert.Contains(t, out, "premium: 0")
	})

	t.Run("unpaid loan reverts", func(t *testing.T) {
		out, err := run(t, "simulate", "--config", path, "--caller", caller, "--asset", asset,
			"--amount", "10000", "--payload", "", "--fund", "--commit", "--no-repay")
		require.Error(t, err)
		assert.Contains(t, out, "reverted (loan_not_repaid)")
	})

	t.Run("committed simulation", func(t *testing.T) {
		out, err := run(t, "simulate", "--config", path, "--caller", caller, "--asset", asset,
			"--amount", "10000", "--payload", "", "--fund", "--commit", "--no-repay=false")
		require.NoError(t, err)
		assert.Contains(t, out, "premium: 15")

		out, err = run(t, "liquidity", "--config", path, "--asset", asset)
		require.NoError(t, err)
		assert.Contains(t, out, "loan_count:     1")
		assert.Contains(t, out, "fees_collected: 15")
		assert.Contains(t, out, "available:      50000")
	})

	t.Run("withdraw fees", func(t *testing.T) {
		out, err := run(t, "admin", "withdraw-fees", "--config", path, "--asset", asset)
		require.NoError(t, err)
		assert.Contains(t, out, "withdrew 15 fees")
	})

	t.Run("unauthorized admin", func(t *testing.T) {
		_, err := run(t, "admin", "withdraw-fees", "--config", path, "--asset", asset, "--admin", testutils.Stranger.Hex())
		assert.Error(t, err)
		// reset the persistent flag for later subtests
		_, err = run(t, "admin", "deposit", "--config", path, "--asset", asset, "--amount", "1", "--admin", "")
		assert.NoError(t, err)
	})

	t.Run("revoke and authorize", func(t *testing.T) {
		out, err := run(t, "admin", "revoke", "--config", path, "--account", caller)
		require.NoError(t, err)
		assert.Contains(t, out, "revoked")

		out, err = run(t, "simulate", "--config", path, "--caller", caller, "--asset", asset,
			"--amount", "1000", "--payload", "", "--fund", "--commit=false", "--no-repay=false")
		require.Error(t, err)
		assert.Contains(t, out, "reverted (caller_not_authorized)")

		_, err = run(t, "admin", "authorize", "--config", path, "--account", caller)
		require.NoError(t, err)
	})

	t.Run("audit replay", func(t *testing.T) {
		out, err := run(t, "audit", "replay", "--config", path, "--type", "loan.executed", "--after", "0")
		require.NoError(t, err)
		assert.Contains(t, out, "loan.executed")
		assert.Contains(t, out, "amount=10000")
		assert.Contains(t, out, "premium=15")
		assert.NotContains(t, out, "asset.listed")
	})
}

func TestFlagParsing(t *testing.T) {
	_, err := parseAddress("asset", "0x12")
	assert.Error(t, err)
	_, err = parseAmount("amount", "ten")
	assert.Error(t, err)

	v, err := parseAmount("amount", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	assert.Equal(t, "a=1 b=2", formatAttrs(map[string]string{"b": "2", "a": "1"}))
}
