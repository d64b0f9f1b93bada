package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTrace_Shape(t *testing.T) {
	ct := NewCallTrace(true)

	p0 := ct.Begin("a:execute({})")
	p1 := ct.Begin("b:execute({})")
	ct.Fail("boom")
	ct.End(p1)
	p2 := ct.Begin("c:execute({})")
	ct.End(p2)
	ct.End(p0)

	snap := ct.Snapshot()
	assert.Equal(t, map[int][]int{
		0: {1},
		1: {2, 4},
		2: {3},
		3: {},
		4: {},
	}, snap.Graph)
	assert.Equal(t, "top", snap.Labels[0])
	assert.Equal(t, "boom", snap.Labels[3])
	assert.Equal(t, "c:execute({})", snap.Labels[4])

	// Snapshots are detached from the recorder
	snap.Graph[0] = nil
	assert.Equal(t, []int{1}, ct.Snapshot().Graph[0])
}

func TestCallTrace_DisabledIsNoop(t *testing.T) {
	ct := NewCallTrace(false)
	p := ct.Begin("x")
	ct.Fail("y")
	ct.End(p)

	snap := ct.Snapshot()
	assert.Equal(t, map[int][]int{0: {}}, snap.Graph)
	assert.Equal(t, map[int]string{0: "top"}, snap.Labels)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, `wasm1x:execute({"a":1})`, Label("wasm1x", "execute", []byte(`{"a":1}`)))

	long := Label("wasm1x", "query", []byte(strings.Repeat("z", 1000)))
	assert.True(t, strings.HasSuffix(long, "...)"))
	assert.Less(t, len(long), 300)
}

func TestCoverage(t *testing.T) {
	cov := NewCoverage(false)
	cov.Capture("a", []byte{1})
	assert.Empty(t, cov.ForAddress("a"))

	cov.SetEnabled(true)
	cov.Capture("a", []byte{1, 2})
	cov.Capture("a", nil)
	cov.Capture("a", []byte{3})
	cov.Capture("b", []byte{4})

	got := cov.ForAddress("a")
	require.Len(t, got, 2)
	assert.Equal(t, []byte{1, 2}, got[0])
	got[0][0] = 9
	assert.Equal(t, []byte{1, 2}, cov.ForAddress("a")[0])
	assert.Len(t, cov.All(), 2)
}
