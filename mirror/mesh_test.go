package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/statemesh/cluster"
	"github.com/vx-labs/statemesh/state"
	"go.uber.org/zap"
)

type mesh struct {
	hub        *cluster.Hub
	authority  *Channel[counter]
	background *Channel[counter]
	panel      *Channel[counter]
	popup      *Channel[counter]
}

func (m *mesh) all() []*Channel[counter] {
	return []*Channel[counter]{m.authority, m.background, m.panel, m.popup}
}

func newMesh(t *testing.T, initial counter) *mesh {
	hub := cluster.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	cat := testCategory(t)
	m := &mesh{hub: hub}
	var err error
	m.authority, err = NewAuthority(hub.Node("authority"), cat, initial, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	m.background, err = NewBackground(hub.Node("background"), cat, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	m.panel, err = NewPanel(hub.Node("panel"), cat, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	m.popup, err = NewPopup(hub.Node("popup"), cat, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	for _, ch := range m.all() {
		require.NoError(t, waitReady(t, ch))
		ch := ch
		t.Cleanup(func() { ch.Close() })
	}
	return m
}

func TestMesh_ReplicasBootstrapFromAuthority(t *testing.T) {
	m := newMesh(t, counter{Count: 4, Text: "hello"})
	for _, ch := range m.all() {
		assert.Equal(t, counter{Count: 4, Text: "hello"}, ch.GetState(), ch.Binding().Name)
	}
}

func TestMesh_LateReplicaGetsLatestState(t *testing.T) {
	hub := cluster.NewHub(zap.NewNop())
	defer hub.Close()
	cat := testCategory(t)
	authority, err := NewAuthority(hub.Node("authority"), cat, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	defer authority.Close()
	require.NoError(t, authority.SetState(counter{Count: 2, Text: "written before"}))

	panel, err := NewPanel(hub.Node("panel"), cat, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	defer panel.Close()
	require.NoError(t, waitReady(t, panel))
	assert.Equal(t, counter{Count: 2, Text: "written before"}, panel.GetState())
}

func TestMesh_Convergence(t *testing.T) {
	m := newMesh(t, counter{})

	require.NoError(t, m.authority.MergeState(state.Partial{"count": 7}))
	m.hub.Sync()
	for _, ch := range m.all() {
		assert.Equal(t, counter{Count: 7}, ch.GetState(), ch.Binding().Name)
	}

	require.NoError(t, m.popup.SetState(counter{Count: 8, Text: "from popup"}))
	m.hub.Sync()
	for _, ch := range m.all() {
		assert.Equal(t, counter{Count: 8, Text: "from popup"}, ch.GetState(), ch.Binding().Name)
	}

	require.NoError(t, m.panel.MergeState(state.Partial{"text": "from panel"}))
	m.hub.Sync()
	for _, ch := range m.all() {
		assert.Equal(t, counter{Count: 8, Text: "from panel"}, ch.GetState(), ch.Binding().Name)
	}
}

func TestMesh_OneWriteDeliversOncePerPeer(t *testing.T) {
	m := newMesh(t, counter{})
	m.hub.Sync()
	before := m.hub.Deliveries()

	require.NoError(t, m.authority.SetState(counter{Count: 1}))
	m.hub.Sync()
	m.hub.Sync()
	assert.Equal(t, uint64(3), m.hub.Deliveries()-before)

	before = m.hub.Deliveries()
	require.NoError(t, m.background.MergeState(state.Partial{"text": "x"}))
	m.hub.Sync()
	m.hub.Sync()
	assert.Equal(t, uint64(3), m.hub.Deliveries()-before)
}

func TestMesh_UnrelatedCategoriesAreIsolated(t *testing.T) {
	hub := cluster.NewHub(zap.NewNop())
	defer hub.Close()
	reg := NewRegistry()
	first, err := Define[counter](reg, "first")
	require.NoError(t, err)
	second, err := Define[counter](reg, "second")
	require.NoError(t, err)

	a, err := NewAuthority(hub.Node("authority"), first, counter{}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewAuthority(hub.Node("panel"), second, counter{Text: "untouched"}, WithMetrics(testMetrics(t)))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SetState(counter{Count: 1}))
	hub.Sync()
	assert.Equal(t, counter{Text: "untouched"}, b.GetState())
}
