// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package tick

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRangeSwaps(t *testing.T) {
	r := NewRange(10, 5)
	require.Equal(t, Range{Start: 5, End: 10}, r)
}

func TestDuration(t *testing.T) {
	r := NewRange(5, 15)
	require.Equal(t, int64(10), r.Duration())
}

func TestWithHandles(t *testing.T) {
	cases := []struct {
		name     string
		r        Range
		handle   int64
		mediaDur int64
		want     Range
	}{
		{"basic", NewRange(100, 200), 10, 1000, NewRange(90, 210)},
		{"clampLow", NewRange(5, 200), 10, 1000, NewRange(0, 210)},
		{"clampHigh", NewRange(100, 995), 10, 1000, NewRange(90, 1000)},
		{"unboundedMedia", NewRange(100, 200), 10, 0, NewRange(90, 210)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.r.WithHandles(c.handle, c.mediaDur))
		})
	}
}

func TestMergeWith(t *testing.T) {
	a := NewRange(0, 10)
	b := NewRange(10, 20)
	merged, ok := a.MergeWith(b, 0)
	require.True(t, ok)
	require.Equal(t, NewRange(0, 20), merged)

	// Commutative.
	merged2, ok2 := b.MergeWith(a, 0)
	require.True(t, ok2)
	require.Equal(t, merged, merged2)

	c := NewRange(21, 30)
	_, ok = b.MergeWith(c, 0)
	require.False(t, ok)

	merged3, ok3 := b.MergeWith(c, 1)
	require.True(t, ok3)
	require.Equal(t, NewRange(10, 30), merged3)
}

func TestOptimizeIdempotent(t *testing.T) {
	ranges := []Range{NewRange(50, 60), NewRange(0, 10), NewRange(5, 15), NewRange(100, 110)}
	once := Optimize(ranges, 0)
	twice := Optimize(once, 0)
	require.Equal(t, once, twice)

	require.Equal(t, []Range{NewRange(0, 15), NewRange(50, 60), NewRange(100, 110)}, once)
}

func TestOptimizeSortedAndDisjoint(t *testing.T) {
	ranges := []Range{NewRange(30, 40), NewRange(0, 5), NewRange(10, 20)}
	out := Optimize(ranges, 0)
	for i := 1; i < len(out); i++ {
		require.Less(t, out[i-1].End, out[i].Start+1)
		require.LessOrEqual(t, out[i-1].Start, out[i].Start)
	}
}

func TestOptimizeDurationBoundedByHull(t *testing.T) {
	ranges := []Range{NewRange(0, 10), NewRange(100, 120), NewRange(5, 8)}
	out := Optimize(ranges, 0)

	var sum int64
	for _, r := range out {
		sum += r.Duration()
	}
	require.LessOrEqual(t, sum, Hull(ranges).Duration())
}

func TestHullEmpty(t *testing.T) {
	require.Equal(t, Range{}, Hull(nil))
}
