package peers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(set []Peer) []string {
	out := make([]string, len(set))
	for idx := range set {
		out[idx] = set[idx].ID
	}
	return out
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	require.NoError(t, d.Upsert(Peer{ID: "b", Categories: []string{"settings", "tabs"}}))
	require.NoError(t, d.Upsert(Peer{ID: "a", Categories: []string{"settings"}}))
	require.NoError(t, d.Upsert(Peer{ID: "c"}))
	require.NoError(t, d.Upsert(Peer{ID: "w", Wildcard: true, Categories: []string{"ignored"}}))
	require.Error(t, d.Upsert(Peer{}))

	t.Run("by category", func(t *testing.T) {
		set, err := d.ByCategory("settings")
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "w"}, ids(set))
		set, err = d.ByCategory("tabs")
		require.NoError(t, err)
		require.Equal(t, []string{"b", "w"}, ids(set))
		set, err = d.ByCategory("missing")
		require.NoError(t, err)
		require.Equal(t, []string{"w"}, ids(set))
	})
	t.Run("by id", func(t *testing.T) {
		p, err := d.ByID("b")
		require.NoError(t, err)
		require.True(t, p.Hosts("tabs"))
		require.False(t, p.Hosts("missing"))
		w, err := d.ByID("w")
		require.NoError(t, err)
		require.True(t, w.Hosts("anything"))
		require.Empty(t, w.Categories)
		_, err = d.ByID("missing")
		require.Equal(t, ErrPeerNotFound, err)
	})
	t.Run("update", func(t *testing.T) {
		require.NoError(t, d.Upsert(Peer{ID: "a", Categories: []string{"tabs"}}))
		set, err := d.ByCategory("settings")
		require.NoError(t, err)
		require.Equal(t, []string{"b", "w"}, ids(set))
	})
	t.Run("delete", func(t *testing.T) {
		require.NoError(t, d.Delete("b"))
		require.Equal(t, ErrPeerNotFound, d.Delete("b"))
		set, err := d.All()
		require.NoError(t, err)
		require.Equal(t, []string{"a", "c", "w"}, ids(set))
	})
}
