package poolsync

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stream-pools/poolsync/pkg/reconciler"
)

const poolsAddr = "0x00000000000000000000000000000000000000aa"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_STREAM_POOLS_ADDRESS", poolsAddr)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(poolsAddr), cfg.Ledger.PoolsAddress)
	assert.Equal(t, "ws://localhost:8546", cfg.Ledger.Endpoint)
	assert.Equal(t, int64(1), cfg.Ledger.ChainID.Int64())
	assert.Equal(t, uint64(500000), cfg.Ledger.GasLimit)
	assert.Equal(t, 15*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 3, cfg.RecipientCapacity)
	assert.Equal(t, ":3003", cfg.Addr)
	assert.False(t, cfg.RedisEnabled)
	assert.Nil(t, cfg.WatchAccount)
	assert.Nil(t, cfg.OracleView)

	signer, err := cfg.Signer()
	require.NoError(t, err)
	assert.Nil(t, signer)

	rc := cfg.Reconciler(reconciler.ViewStreams)
	assert.Equal(t, reconciler.ViewStreams, rc.View)
	assert.Equal(t, 8, rc.ReadParallelism)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LEDGER_STREAM_POOLS_ADDRESS", poolsAddr)
	t.Setenv("LEDGER_CHAIN_ID", "11155111")
	t.Setenv("POOLSYNC_REFRESH_INTERVAL", "30")
	t.Setenv("POOLSYNC_WATCH_ACCOUNT", "0x00000000000000000000000000000000000000bb")
	t.Setenv("ORACLE_VIEW_ADDRESS", "0x00000000000000000000000000000000000000cc")
	t.Setenv("ORACLE_EULER_ADDRESS", "0x00000000000000000000000000000000000000dd")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), cfg.Ledger.ChainID.Int64())
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	require.NotNil(t, cfg.WatchAccount)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000bb"), *cfg.WatchAccount)
	require.NotNil(t, cfg.OracleEuler)
	assert.True(t, cfg.RedisEnabled)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing pools address", map[string]string{}},
		{"bad pools address", map[string]string{"LEDGER_STREAM_POOLS_ADDRESS": "0x12"}},
		{"half oracle", map[string]string{"LEDGER_STREAM_POOLS_ADDRESS": poolsAddr, "ORACLE_VIEW_ADDRESS": poolsAddr}},
		{"two signers", map[string]string{"LEDGER_STREAM_POOLS_ADDRESS": poolsAddr, "LEDGER_PRIVATE_KEY": "ab", "LEDGER_KEYSTORE_PATH": "/tmp/k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEDGER_STREAM_POOLS_ADDRESS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
