package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

func TestVTCacheRefresh(t *testing.T) {
	r := newTestRunner(t)
	cache := r.vts
	assert.Zero(t, cache.Len())
	assert.True(t, cache.RefreshedAt().IsZero())

	_, ok := cache.Get("1.3.6.1.4.1.25623.1.0.1")
	assert.False(t, ok)

	require.NoError(t, r.store.ReplaceVTs([]*types.VT{
		{OID: "1.3.6.1.4.1.25623.1.0.1", Name: "SSH detection", Severity: 0, QoD: 95},
		{OID: "1.3.6.1.4.1.25623.1.0.2", Name: "Weak MAC", Severity: 2.6},
	}))
	require.NoError(t, cache.Refresh(r.store))

	assert.Equal(t, 2, cache.Len())
	assert.False(t, cache.RefreshedAt().IsZero())
	vt, ok := cache.Get("1.3.6.1.4.1.25623.1.0.1")
	require.True(t, ok)
	assert.Equal(t, "SSH detection", vt.Name)
	assert.Equal(t, 95, vt.QoD)
}

func TestVTCacheRefreshSwapsWholesale(t *testing.T) {
	r := newTestRunner(t)
	require.NoError(t, r.store.ReplaceVTs([]*types.VT{
		{OID: "1.3.6.1.4.1.25623.1.0.1"},
		{OID: "1.3.6.1.4.1.25623.1.0.2"},
	}))
	require.NoError(t, r.vts.Refresh(r.store))
	require.Equal(t, 2, r.vts.Len())

	// A feed sync that drops a VT drops it from the cache too.
	require.NoError(t, r.store.ReplaceVTs([]*types.VT{
		{OID: "1.3.6.1.4.1.25623.1.0.2"},
	}))
	require.NoError(t, r.vts.Refresh(r.store))
	assert.Equal(t, 1, r.vts.Len())
	_, ok := r.vts.Get("1.3.6.1.4.1.25623.1.0.1")
	assert.False(t, ok)
}
