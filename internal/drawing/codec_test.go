package drawing

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(n int, start float32) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{X: start + float32(i), Y: float32(i) * 0.5, Z: 0}
	}
	return pts
}

func sample(lengths ...int) MultiLineData {
	var strokes []Stroke
	for i, n := range lengths {
		strokes = append(strokes, Stroke{Points: line(n, float32(i*1000)), Color: ARGB(0xff, uint8(i), 0x20, 0x30)})
	}
	return Flatten(strokes)
}

func TestEncodeMerge_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lengths []int
		max     int
	}{
		{[]int{2}, 200},
		{[]int{450}, 200},
		{[]int{200}, 200},
		{[]int{201}, 200},
		{[]int{3, 7, 11, 2}, 4},
		{[]int{5, 5, 5}, 1},
		{[]int{37, 120, 64}, 50},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v/%d", tc.lengths, tc.max), func(t *testing.T) {
			data := sample(tc.lengths...)
			chunks := Encode(3, data, tc.max)
			require.Len(t, chunks, ChunkCount(len(data.Points), tc.max))

			got, err := Merge(chunks)
			require.NoError(t, err)
			if diff := cmp.Diff(data, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_ChunkCount(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Encode(0, MultiLineData{}, 200))
	assert.Equal(t, 0, ChunkCount(0, 200))
	assert.Equal(t, 1, ChunkCount(1, 200))
	assert.Equal(t, 1, ChunkCount(200, 200))
	assert.Equal(t, 2, ChunkCount(201, 200))
	assert.Equal(t, 3, ChunkCount(450, 200))
}

func TestEncode_450PointStroke(t *testing.T) {
	t.Parallel()

	data := sample(450)
	chunks := Encode(0, data, 200)
	require.Len(t, chunks, 3)

	sizes := []int{200, 200, 50}
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 3, c.TotalChunks)
		assert.Len(t, c.Points, sizes[i])
		assert.Equal(t, []int{450}, c.LineLengths)
		assert.Len(t, c.Colors, 1)
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	t.Parallel()

	data := sample(30, 45, 2, 90)
	chunks := Encode(1, data, 16)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		shuffled := append([]Chunk(nil), chunks...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := Merge(shuffled)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(data, got))
	}
}

func TestMerge_Errors(t *testing.T) {
	t.Parallel()

	_, err := Merge(nil)
	assert.ErrorIs(t, err, ErrNoChunks)

	chunks := Encode(0, sample(450), 200)
	_, err = Merge(chunks[:2])
	assert.ErrorIs(t, err, ErrMissingChunk)

	dup := []Chunk{chunks[0], chunks[0], chunks[2]}
	_, err = Merge(dup)
	assert.ErrorIs(t, err, ErrMissingChunk)

	mixed := append([]Chunk(nil), chunks...)
	mixed[1].TotalChunks = 4
	_, err = Merge(mixed)
	assert.ErrorIs(t, err, ErrTotalMismatch)
}

func TestFlatten_DropsShortStrokes(t *testing.T) {
	t.Parallel()

	strokes := []Stroke{
		{Points: line(1, 0), Color: Black},
		{Points: line(4, 10), Color: ARGB(0xff, 0xff, 0, 0)},
		{Points: nil, Color: Black},
		{Points: line(2, 20), Color: Black},
	}
	data := Flatten(strokes)
	require.NoError(t, data.Validate())
	assert.Equal(t, []int{4, 2}, data.LineLengths)

	rebuilt, err := Rebuild(data)
	require.NoError(t, err)
	require.Len(t, rebuilt, 2)
	for _, s := range rebuilt {
		assert.GreaterOrEqual(t, len(s.Points), MinStrokePoints)
	}
	assert.Equal(t, strokes[1], rebuilt[0])
}

func TestRebuild_DoesNotFilter(t *testing.T) {
	t.Parallel()

	data := MultiLineData{
		Points:      line(3, 0),
		LineLengths: []int{1, 2},
		Colors:      []Color{Black, Black},
	}
	strokes, err := Rebuild(data)
	require.NoError(t, err)
	require.Len(t, strokes, 2)
	assert.Len(t, strokes[0].Points, 1)
}

func TestRebuild_Overrun(t *testing.T) {
	t.Parallel()

	_, err := Rebuild(MultiLineData{Points: line(2, 0), LineLengths: []int{5}, Colors: []Color{Black}})
	assert.True(t, errors.Is(err, ErrLengthMismatch))

	_, err = Rebuild(MultiLineData{Points: line(2, 0), LineLengths: []int{2}})
	assert.ErrorIs(t, err, ErrColorMismatch)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MultiLineData{}.Validate())
	assert.NoError(t, sample(3, 4).Validate())
	assert.ErrorIs(t, MultiLineData{Points: line(3, 0), LineLengths: []int{2}, Colors: []Color{Black}}.Validate(), ErrLengthMismatch)
	assert.ErrorIs(t, MultiLineData{LineLengths: []int{-1}, Colors: []Color{Black}}.Validate(), ErrNegativeLength)
}

func TestColor_Components(t *testing.T) {
	t.Parallel()

	c := ARGB(0x80, 0x11, 0x22, 0x33)
	assert.Equal(t, Color(0x80112233), c)
	a, r, g, b := c.Components()
	assert.Equal(t, []uint8{0x80, 0x11, 0x22, 0x33}, []uint8{a, r, g, b})
}
