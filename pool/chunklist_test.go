package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkListInsertRemoveOrder(t *testing.T) {
	l := newChunkList(bandQ050)
	c1 := &chunk{id: 1}
	c2 := &chunk{id: 2}
	c3 := &chunk{id: 3}

	require.True(t, l.empty())
	l.insertHead(c1)
	l.insertHead(c2)
	l.insertHead(c3)
	require.False(t, l.empty())
	require.Equal(t, bandQ050, c1.band)

	var seen []int32
	l.each(func(c *chunk) { seen = append(seen, c.id) })
	require.Equal(t, []int32{3, 2, 1}, seen)

	l.remove(c2)
	seen = nil
	l.each(func(c *chunk) { seen = append(seen, c.id) })
	require.Equal(t, []int32{3, 1}, seen)

	l.remove(c3)
	l.remove(c1)
	require.True(t, l.empty())
}

func TestChunkListEachSurvivesMidIterationUnlink(t *testing.T) {
	l := newChunkList(bandQ050)
	other := newChunkList(bandQ075)
	c1, c2, c3 := &chunk{id: 1}, &chunk{id: 2}, &chunk{id: 3}
	l.insertHead(c1)
	l.insertHead(c2)
	l.insertHead(c3)

	var seen []int32
	l.each(func(c *chunk) {
		seen = append(seen, c.id)
		if c.id == 2 {
			l.remove(c)
			other.insertHead(c)
		}
	})
	require.Equal(t, []int32{3, 2, 1}, seen)
	require.Equal(t, bandQ075, c2.band)
}

func TestBandRangesCoverFullUtilizationSpan(t *testing.T) {
	for step := 0; step <= 20; step++ {
		u := float64(step) / 20.0
		if u == 1.0 {
			require.GreaterOrEqual(t, u, bandRanges[bandQ100].min)
			continue
		}
		covered := false
		for _, b := range bandOrder {
			r := bandRanges[b]
			if u >= r.min && u < r.max {
				covered = true
				break
			}
		}
		require.True(t, covered, "utilization %.2f not covered by any band", u)
	}
}

func TestBandIndex(t *testing.T) {
	require.Equal(t, 0, bandIndex(bandQInit))
	require.Equal(t, len(bandOrder)-1, bandIndex(bandQ100))
	require.Equal(t, -1, bandIndex(bandInvalid))
}
