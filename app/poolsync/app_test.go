package poolsync

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stream-pools/poolsync/pkg/ledger"
)

func testConfig() Config {
	return Config{
		Ledger:            ledger.Opts{PoolsAddress: common.HexToAddress(poolsAddr)},
		RecipientCapacity: 3,
		Addr:              ":0",
	}
}

// TestBuildReadOnly connects the watch account and exposes no actions.
func TestBuildReadOnly(t *testing.T) {
	logger := zaptest.NewLogger(t)
	watch := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	cfg := testConfig()
	cfg.WatchAccount = &watch

	gw := ledger.NewEthGateway(nil, cfg.Ledger, nil, logger)
	app, err := Build(cfg, gw, nil, nil, logger)
	require.NoError(t, err)

	assert.Nil(t, app.Actions)
	assert.Nil(t, app.Signer)
	assert.Len(t, app.Reconcilers, 2)
	got, ok := app.Session.CurrentAccount()
	require.True(t, ok)
	assert.Equal(t, watch, got)

	require.NoError(t, NewServer(app, cfg.Addr))
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestBuildWithSigner acts for the signing account.
func TestBuildWithSigner(t *testing.T) {
	logger := zaptest.NewLogger(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ledger.NewSigner(key)

	cfg := testConfig()
	gw := ledger.NewEthGateway(nil, cfg.Ledger, signer, logger)
	app, err := Build(cfg, gw, nil, nil, logger)
	require.NoError(t, err)

	assert.NotNil(t, app.Actions)
	require.NotNil(t, app.Signer)
	assert.Equal(t, signer.Address(), *app.Signer)
	got, ok := app.Session.CurrentAccount()
	require.True(t, ok)
	assert.Equal(t, signer.Address(), got)
}
