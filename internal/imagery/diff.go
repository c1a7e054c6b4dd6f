package imagery

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidEnhancement is returned for a non-positive or non-finite factor.
var ErrInvalidEnhancement = errors.New("enhancement factor must be a positive finite number")

// DimensionMismatchError reports a reference/current pair whose pixel
// dimensions differ. No diff is produced in that case.
type DimensionMismatchError struct {
	Reference image.Point
	Current   image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: reference %dx%d, current %dx%d",
		e.Reference.X, e.Reference.Y, e.Current.X, e.Current.Y)
}

// Diff is an enhanced per-channel difference map and its summary statistics.
type Diff struct {
	Image *image.NRGBA

	// Changed counts pixels with at least one non-zero channel.
	Changed         int
	ChangedFraction float64

	// Max and Mean are taken over every RGB channel value of Image.
	Max  uint8
	Mean float64
}

// ComputeDiff returns clamp(|reference - current| * factor) per pixel and
// channel. Both images are normalized with ToRGB first. The operation is
// symmetric and an identical pair yields an all-zero map.
func ComputeDiff(reference, current image.Image, factor float64) (*Diff, error) {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return nil, ErrInvalidEnhancement
	}

	rs, cs := reference.Bounds().Size(), current.Bounds().Size()
	if rs != cs {
		return nil, &DimensionMismatchError{Reference: rs, Current: cs}
	}

	ref, cur := ToRGB(reference), ToRGB(current)
	out := image.NewNRGBA(ref.Rect)
	d := &Diff{Image: out}

	var sum uint64
	for i := 0; i < len(out.Pix); i += 4 {
		changed := false
		for c := 0; c < 3; c++ {
			v := enhance(absDiff(ref.Pix[i+c], cur.Pix[i+c]), factor)
			out.Pix[i+c] = v
			sum += uint64(v)
			if v > d.Max {
				d.Max = v
			}
			if v != 0 {
				changed = true
			}
		}
		out.Pix[i+3] = 0xff
		if changed {
			d.Changed++
		}
	}

	if pixels := rs.X * rs.Y; pixels > 0 {
		d.ChangedFraction = float64(d.Changed) / float64(pixels)
		d.Mean = float64(sum) / float64(3*pixels)
	}
	return d, nil
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// enhance scales v and saturates at 255; fractional results truncate.
func enhance(v uint8, factor float64) uint8 {
	scaled := float64(v) * factor
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}
