package drawing

import "fmt"

type pending struct {
	total    int
	received []bool
	count    int
	chunks   []Chunk
}

// Assembler buffers chunks per surface until every index of a submission has
// arrived. Completion is decided by coverage of chunk indices, so redelivered
// chunks never count twice.
type Assembler struct {
	buffers map[int]*pending
}

func NewAssembler() *Assembler {
	return &Assembler{buffers: make(map[int]*pending)}
}

// Add buffers c. It returns the merged data and true once the submission for
// c.SurfaceIndex is complete. ErrStaleSubmission is returned alongside a
// normal result when c replaced a buffer with a different declared total.
func (a *Assembler) Add(c Chunk) (MultiLineData, bool, error) {
	if c.TotalChunks < 0 {
		return MultiLineData{}, false, fmt.Errorf("%w: total %d", ErrChunkOutOfRange, c.TotalChunks)
	}
	if c.TotalChunks == 0 {
		// Zero expected chunks: an empty surface completes immediately.
		delete(a.buffers, c.SurfaceIndex)
		return MultiLineData{}, true, nil
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
		return MultiLineData{}, false, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, c.ChunkIndex, c.TotalChunks)
	}

	var stale error
	p, ok := a.buffers[c.SurfaceIndex]
	if ok && p.total != c.TotalChunks {
		stale = fmt.Errorf("%w: surface %d total %d -> %d", ErrStaleSubmission, c.SurfaceIndex, p.total, c.TotalChunks)
		ok = false
	}
	if !ok {
		p = &pending{
			total:    c.TotalChunks,
			received: make([]bool, c.TotalChunks),
			chunks:   make([]Chunk, c.TotalChunks),
		}
		a.buffers[c.SurfaceIndex] = p
	}

	if !p.received[c.ChunkIndex] {
		p.received[c.ChunkIndex] = true
		p.count++
	}
	p.chunks[c.ChunkIndex] = c

	if p.count < p.total {
		return MultiLineData{}, false, stale
	}
	delete(a.buffers, c.SurfaceIndex)
	data, err := Merge(p.chunks)
	if err != nil {
		return MultiLineData{}, false, err
	}
	return data, true, stale
}

// Progress reports how many chunks of the in-flight submission for surface
// have arrived.
func (a *Assembler) Progress(surface int) (received, total int, ok bool) {
	p, ok := a.buffers[surface]
	if !ok {
		return 0, 0, false
	}
	return p.count, p.total, true
}

// Drop discards the in-flight buffer for surface.
func (a *Assembler) Drop(surface int) {
	delete(a.buffers, surface)
}

func (a *Assembler) Reset() {
	clear(a.buffers)
}
