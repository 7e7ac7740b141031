package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "free", c.Default().Name)
	require.Equal(t, "free", c.Get("does-not-exist").Name)
	require.False(t, c.Known("does-not-exist"))

	pro := c.Get("pro")
	require.True(t, pro.Has("webhooks"))
	require.EqualValues(t, Unlimited, c.Get("enterprise").MonthlyRequests)

	low, ok := c.LowestWith("webhooks")
	require.True(t, ok)
	require.Equal(t, "pro", low.Name)
	_, ok = c.LowestWith("teleport")
	require.False(t, ok)

	all := c.All()
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].Rank, all[i].Rank)
	}
}

func TestLoadFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
plans:
  - {name: solo, rank: 0, monthly_requests: 5}
  - {name: team, rank: 1, monthly_requests: 50, features: [webhooks]}
`), 0o600))
	c, err := Load(p)
	require.NoError(t, err)
	require.EqualValues(t, 5, c.Get("solo").MonthlyRequests)
	require.Equal(t, "solo", c.Default().Name)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	_, err := Parse([]byte(`plans: []`))
	require.Error(t, err)
	_, err = Parse([]byte("plans:\n  - {name: a}\n  - {name: a}\n"))
	require.ErrorContains(t, err, "duplicate")
	_, err = Parse([]byte(`{{`))
	require.Error(t, err)
}

func TestAllows(t *testing.T) {
	require.True(t, Allows(Unlimited, 1_000_000))
	require.True(t, Allows(2, 1))
	require.False(t, Allows(2, 2))
	require.False(t, Allows(0, 0))
}
