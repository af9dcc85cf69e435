package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
)

func TestSignalHealthChecker(t *testing.T) {
	assert.NoError(t, signalHealthChecker{}.CheckHealth(context.Background()))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestStoreHealthChecker(t *testing.T) {
	t.Run("healthy store", func(t *testing.T) {
		err := storeHealthChecker{pinger: fakePinger{}}.CheckHealth(context.Background())
		assert.NoError(t, err)
	})

	t.Run("ping failure is wrapped", func(t *testing.T) {
		err := storeHealthChecker{pinger: fakePinger{err: assert.AnError}}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "store ping")
	})

	t.Run("missing store", func(t *testing.T) {
		err := storeHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store not initialized")
	})

	t.Run("real in-memory store", func(t *testing.T) {
		store, err := exportstore.OpenStore(context.Background(), exportstore.Config{Path: ":memory:"})
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		assert.NoError(t, storeHealthChecker{pinger: store}.CheckHealth(context.Background()))
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	valid := identityHealthChecker{binaryName: "mod-data-export", envPrefix: "DATAEXPORT", configName: "mod-data-export"}
	assert.NoError(t, valid.CheckHealth(context.Background()))

	for want, broken := range map[string]func(c *identityHealthChecker){
		"missing binary name": func(c *identityHealthChecker) { c.binaryName = "" },
		"missing env prefix":  func(c *identityHealthChecker) { c.envPrefix = "" },
		"missing config name": func(c *identityHealthChecker) { c.configName = "" },
	} {
		c := valid
		broken(&c)
		assert.EqualError(t, c.CheckHealth(context.Background()), want)
	}
}
