package proto

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
)

// FrameKind tags a binary frame.
type FrameKind uint8

const (
	_ FrameKind = iota
	// FrameSubmit carries a participant's chunk to the authority.
	FrameSubmit
	// FrameLive re-broadcasts one surface as soon as its submission completes.
	FrameLive
	// FrameFinal is part of the end-of-round fan-out of every surface.
	FrameFinal
	// FrameDrawing is a whole MultiLineData, used for archival.
	FrameDrawing
)

func (k FrameKind) String() string {
	switch k {
	case FrameSubmit:
		return "submit"
	case FrameLive:
		return "live"
	case FrameFinal:
		return "final"
	case FrameDrawing:
		return "drawing"
	}
	return fmt.Sprintf("frame(%d)", uint8(k))
}

const (
	fieldKind        protowire.Number = 1
	fieldRound       protowire.Number = 2
	fieldSurface     protowire.Number = 3
	fieldChunkIndex  protowire.Number = 4
	fieldTotalChunks protowire.Number = 5
	fieldPoints      protowire.Number = 6
	fieldLineLengths protowire.Number = 7
	fieldColors      protowire.Number = 8
)

var (
	ErrBadFrame      = errors.New("malformed frame")
	ErrFrameTooLarge = errors.New("frame exceeds transport payload limit")
)

// Frame is one binary message: a chunk plus routing metadata.
type Frame struct {
	Kind  FrameKind
	Round int
	Chunk drawing.Chunk
}

// MarshalFrame encodes f using protobuf wire encoding. All fields are always
// written so a zero total survives the trip.
func MarshalFrame(f Frame) []byte {
	c := f.Chunk
	b := make([]byte, 0, 32+len(c.Points)*12+len(c.LineLengths)*2+len(c.Colors)*4)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = appendInt(b, fieldRound, f.Round)
	b = appendInt(b, fieldSurface, c.SurfaceIndex)
	b = appendInt(b, fieldChunkIndex, c.ChunkIndex)
	b = appendInt(b, fieldTotalChunks, c.TotalChunks)

	pts := make([]byte, 0, len(c.Points)*12)
	for _, p := range c.Points {
		pts = protowire.AppendFixed32(pts, math.Float32bits(p.X))
		pts = protowire.AppendFixed32(pts, math.Float32bits(p.Y))
		pts = protowire.AppendFixed32(pts, math.Float32bits(p.Z))
	}
	b = protowire.AppendTag(b, fieldPoints, protowire.BytesType)
	b = protowire.AppendBytes(b, pts)

	var lens []byte
	for _, n := range c.LineLengths {
		lens = protowire.AppendVarint(lens, protowire.EncodeZigZag(int64(n)))
	}
	b = protowire.AppendTag(b, fieldLineLengths, protowire.BytesType)
	b = protowire.AppendBytes(b, lens)

	cols := make([]byte, 0, len(c.Colors)*4)
	for _, col := range c.Colors {
		cols = protowire.AppendFixed32(cols, uint32(col))
	}
	b = protowire.AppendTag(b, fieldColors, protowire.BytesType)
	b = protowire.AppendBytes(b, cols)
	return b
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

// UnmarshalFrame decodes a binary frame. Unknown fields are skipped.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldTotalChunks:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldKind:
				f.Kind = FrameKind(v)
			case fieldRound:
				f.Round = int(protowire.DecodeZigZag(v))
			case fieldSurface:
				f.Chunk.SurfaceIndex = int(protowire.DecodeZigZag(v))
			case fieldChunkIndex:
				f.Chunk.ChunkIndex = int(protowire.DecodeZigZag(v))
			case fieldTotalChunks:
				f.Chunk.TotalChunks = int(protowire.DecodeZigZag(v))
			}

		case typ == protowire.BytesType && num >= fieldPoints && num <= fieldColors:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(m))
			}
			b = b[m:]
			var err error
			switch num {
			case fieldPoints:
				f.Chunk.Points, err = decodePoints(v)
			case fieldLineLengths:
				f.Chunk.LineLengths, err = decodeLengths(v)
			case fieldColors:
				f.Chunk.Colors, err = decodeColors(v)
			}
			if err != nil {
				return Frame{}, err
			}

		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if f.Kind == 0 {
		return Frame{}, fmt.Errorf("%w: missing kind", ErrBadFrame)
	}
	return f, nil
}

func decodePoints(b []byte) ([]drawing.Point, error) {
	if len(b)%12 != 0 {
		return nil, fmt.Errorf("%w: point block of %d bytes", ErrBadFrame, len(b))
	}
	pts := make([]drawing.Point, 0, len(b)/12)
	for len(b) > 0 {
		var xyz [3]float32
		for i := range xyz {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
			}
			xyz[i] = math.Float32frombits(v)
			b = b[n:]
		}
		pts = append(pts, drawing.Point{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return pts, nil
}

func decodeLengths(b []byte) ([]int, error) {
	var lens []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
		}
		lens = append(lens, int(protowire.DecodeZigZag(v)))
		b = b[n:]
	}
	return lens, nil
}

func decodeColors(b []byte) ([]drawing.Color, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: color block of %d bytes", ErrBadFrame, len(b))
	}
	cols := make([]drawing.Color, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
		}
		cols = append(cols, drawing.Color(v))
		b = b[n:]
	}
	return cols, nil
}

// MarshalDrawing encodes a whole surface drawing as a single FrameDrawing.
func MarshalDrawing(d drawing.MultiLineData) []byte {
	return MarshalFrame(Frame{Kind: FrameDrawing, Chunk: drawing.Chunk{
		TotalChunks: 1,
		Points:      d.Points,
		LineLengths: d.LineLengths,
		Colors:      d.Colors,
	}})
}

func UnmarshalDrawing(b []byte) (drawing.MultiLineData, error) {
	f, err := UnmarshalFrame(b)
	if err != nil {
		return drawing.MultiLineData{}, err
	}
	if f.Kind != FrameDrawing {
		return drawing.MultiLineData{}, fmt.Errorf("%w: want %s, got %s", ErrBadFrame, FrameDrawing, f.Kind)
	}
	d := drawing.MultiLineData{Points: f.Chunk.Points, LineLengths: f.Chunk.LineLengths, Colors: f.Chunk.Colors}
	if err := d.Validate(); err != nil {
		return drawing.MultiLineData{}, err
	}
	return d, nil
}

// MaxFrameSize is the encoded size of a worst-case chunk: maxPoints points and
// the given number of strokes.
func MaxFrameSize(maxPoints, strokes int) int {
	pts := maxPoints * 12
	lens := strokes * protowire.SizeVarint(protowire.EncodeZigZag(math.MaxInt32))
	cols := strokes * 4
	head := 5 * (1 + protowire.SizeVarint(math.MaxUint64))
	blocks := 3*1 + protowire.SizeBytes(pts) + protowire.SizeBytes(lens) + protowire.SizeBytes(cols)
	return head + blocks
}
