// Package drawing holds stroke geometry and the chunking codec used to move a
// surface's ink between participants and the authority.
package drawing

import (
	"errors"
	"fmt"
)

// DefaultMaxPointsPerChunk bounds the point window carried by one chunk.
const DefaultMaxPointsPerChunk = 200

// MinStrokePoints is the shortest stroke kept at authoring time. Anything
// shorter is a tap, not a line.
const MinStrokePoints = 2

var (
	ErrLengthMismatch  = errors.New("line lengths do not match point count")
	ErrColorMismatch   = errors.New("line lengths and colors differ in length")
	ErrNegativeLength  = errors.New("negative line length")
	ErrNoChunks        = errors.New("no chunks to merge")
	ErrTotalMismatch   = errors.New("chunks declare different totals")
	ErrMissingChunk    = errors.New("chunk set has gaps")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrStaleSubmission = errors.New("stale submission replaced")
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Color is a packed ARGB value: a<<24 | r<<16 | g<<8 | b.
type Color uint32

func ARGB(a, r, g, b uint8) Color {
	return Color(uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

func (c Color) Components() (a, r, g, b uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Black is the default ink.
var Black = ARGB(0xff, 0, 0, 0)

type Stroke struct {
	Points []Point `json:"points"`
	Color  Color   `json:"color"`
}

// MultiLineData is every stroke of one surface flattened for the wire.
type MultiLineData struct {
	Points      []Point `json:"points"`
	LineLengths []int   `json:"lineLengths"`
	Colors      []Color `json:"colors"`
}

func (d MultiLineData) Empty() bool { return len(d.Points) == 0 && len(d.LineLengths) == 0 }

// Validate checks that lengths, colors and points agree.
func (d MultiLineData) Validate() error {
	if len(d.LineLengths) != len(d.Colors) {
		return fmt.Errorf("%w: %d lengths, %d colors", ErrColorMismatch, len(d.LineLengths), len(d.Colors))
	}
	sum := 0
	for _, n := range d.LineLengths {
		if n < 0 {
			return ErrNegativeLength
		}
		sum += n
	}
	if sum != len(d.Points) {
		return fmt.Errorf("%w: lengths sum to %d, have %d points", ErrLengthMismatch, sum, len(d.Points))
	}
	return nil
}

// Flatten converts authored strokes to wire form, dropping strokes shorter
// than MinStrokePoints.
func Flatten(strokes []Stroke) MultiLineData {
	var d MultiLineData
	for _, s := range strokes {
		if len(s.Points) < MinStrokePoints {
			continue
		}
		d.Points = append(d.Points, s.Points...)
		d.LineLengths = append(d.LineLengths, len(s.Points))
		d.Colors = append(d.Colors, s.Color)
	}
	return d
}

// Rebuild walks LineLengths and slices Points into strokes. Lengths are not
// checked against MinStrokePoints here.
func Rebuild(d MultiLineData) ([]Stroke, error) {
	if len(d.LineLengths) != len(d.Colors) {
		return nil, ErrColorMismatch
	}
	strokes := make([]Stroke, 0, len(d.LineLengths))
	off := 0
	for i, n := range d.LineLengths {
		if n < 0 {
			return nil, ErrNegativeLength
		}
		if off+n > len(d.Points) {
			return nil, fmt.Errorf("%w: stroke %d overruns %d points", ErrLengthMismatch, i, len(d.Points))
		}
		pts := make([]Point, n)
		copy(pts, d.Points[off:off+n])
		strokes = append(strokes, Stroke{Points: pts, Color: d.Colors[i]})
		off += n
	}
	return strokes, nil
}
