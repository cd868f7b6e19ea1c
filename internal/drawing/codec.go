package drawing

import (
	"fmt"
	"sort"
)

// Chunk is one bounded fragment of a surface submission. LineLengths and
// Colors are the full, unsliced arrays and repeat on every chunk.
type Chunk struct {
	SurfaceIndex int
	ChunkIndex   int
	TotalChunks  int
	Points       []Point
	LineLengths  []int
	Colors       []Color
}

// ChunkCount is ceil(points/maxPoints); zero points means zero chunks.
func ChunkCount(points, maxPoints int) int {
	if points <= 0 {
		return 0
	}
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPointsPerChunk
	}
	return (points + maxPoints - 1) / maxPoints
}

// Encode splits data into consecutive windows of at most maxPoints points.
// A surface with no points yields no chunks.
func Encode(surface int, data MultiLineData, maxPoints int) []Chunk {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPointsPerChunk
	}
	total := ChunkCount(len(data.Points), maxPoints)
	chunks := make([]Chunk, 0, total)
	for i := 0; i < len(data.Points); i += maxPoints {
		end := min(i+maxPoints, len(data.Points))
		window := make([]Point, end-i)
		copy(window, data.Points[i:end])
		chunks = append(chunks, Chunk{
			SurfaceIndex: surface,
			ChunkIndex:   len(chunks),
			TotalChunks:  total,
			Points:       window,
			LineLengths:  data.LineLengths,
			Colors:       data.Colors,
		})
	}
	return chunks
}

// Merge reassembles a complete chunk set in any arrival order.
func Merge(chunks []Chunk) (MultiLineData, error) {
	if len(chunks) == 0 {
		return MultiLineData{}, ErrNoChunks
	}
	total := chunks[0].TotalChunks
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkIndex < ordered[j].ChunkIndex })

	if len(ordered) != total {
		return MultiLineData{}, fmt.Errorf("%w: have %d of %d", ErrMissingChunk, len(ordered), total)
	}
	n := 0
	for i, c := range ordered {
		if c.TotalChunks != total {
			return MultiLineData{}, ErrTotalMismatch
		}
		if c.ChunkIndex != i {
			return MultiLineData{}, fmt.Errorf("%w: expected chunk %d, got %d", ErrMissingChunk, i, c.ChunkIndex)
		}
		n += len(c.Points)
	}

	points := make([]Point, 0, n)
	for _, c := range ordered {
		points = append(points, c.Points...)
	}
	return MultiLineData{
		Points:      points,
		LineLengths: ordered[0].LineLengths,
		Colors:      ordered[0].Colors,
	}, nil
}
