package selector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolutions struct {
	mu  sync.Mutex
	got []string
}

func (r *resolutions) record(key, model string) {
	r.mu.Lock()
	r.got = append(r.got, key+"="+model)
	r.mu.Unlock()
}

func TestDraftResolvesToFirstAvailable(t *testing.T) {
	m := New()
	var r resolutions
	m.OnResolve(r.record)

	m.Enter("")
	_, ok := m.Model(Draft)
	assert.False(t, ok, "no models yet")

	m.SetAvailable([]string{"gpt-a", "gpt-b"})
	model, ok := m.Model(Draft)
	require.True(t, ok)
	assert.Equal(t, "gpt-a", model)
	assert.Equal(t, []string{"draft=gpt-a"}, r.got)
}

func TestThreadWaitsForLastUsed(t *testing.T) {
	m := New()
	var r resolutions
	m.OnResolve(r.record)
	m.SetAvailable([]string{"m1", "m2"})

	m.Enter("T")
	_, ok := m.Model("T")
	assert.False(t, ok, "must wait for last-used to settle")

	m.LastUsedSettled("T", "m2")
	model, ok := m.Model("T")
	require.True(t, ok)
	assert.Equal(t, "m2", model)

	m.LastUsedSettled("T", "m1")
	m.Enter("U")
	m.Enter("T")
	model, _ = m.Model("T")
	assert.Equal(t, "m2", model)
	assert.Equal(t, []string{"draft=m1", "T=m2"}, r.got)
}

func TestThreadFallsBackWhenLastUsedGone(t *testing.T) {
	m := New()
	m.SetAvailable([]string{"m1", "m2"})
	m.Enter("T")
	m.LastUsedSettled("T", "retired-model")
	model, ok := m.Model("T")
	require.True(t, ok)
	assert.Equal(t, "m1", model)

	m.Enter("fresh")
	m.LastUsedSettled("fresh", "")
	model, _ = m.Model("fresh")
	assert.Equal(t, "m1", model)
}

func TestLastUsedBeforeModelsArrive(t *testing.T) {
	m := New()
	m.Enter("T")
	m.LastUsedSettled("T", "m2")
	_, ok := m.Model("T")
	assert.False(t, ok)

	m.SetAvailable([]string{"m1", "m2"})
	model, ok := m.Model("T")
	require.True(t, ok)
	assert.Equal(t, "m2", model)
}

func TestSelectAndPromote(t *testing.T) {
	m := New()
	m.SetAvailable([]string{"m1", "m2"})
	m.Select(Draft, "m2")
	m.Promote("T9")

	key, model, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "T9", key)
	assert.Equal(t, "m2", model)

	m.LastUsedSettled("T9", "m1")
	model, _ = m.Model("T9")
	assert.Equal(t, "m2", model)

	m.Enter(Draft)
	model, _ = m.Model(Draft)
	assert.Equal(t, "m1", model)
}

func TestViewStateResetsOnSwitch(t *testing.T) {
	m := New()
	m.SetAvailable([]string{"m1"})
	m.Enter("A")
	assert.True(t, m.MarkInitialLoad())
	assert.False(t, m.MarkInitialLoad())
	m.SetPinned(false)

	m.Enter("A")
	assert.False(t, m.Pinned(), "same key keeps view state")

	m.Enter("B")
	assert.True(t, m.Pinned())
	assert.True(t, m.MarkInitialLoad())

	m.Enter("A")
	assert.True(t, m.MarkInitialLoad(), "returning to a resolved key still reloads")
}
