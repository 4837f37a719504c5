package executor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

var (
	cursorFill = color.NRGBA{R: 0, G: 128, B: 0, A: 128}
	cursorDot  = color.NRGBA{R: 0, G: 255, B: 0, A: 255}
)

// circleMask is an opaque disc used as a draw mask.
type circleMask struct {
	center image.Point
	radius float64
}

func (c *circleMask) ColorModel() color.Model { return color.AlphaModel }

func (c *circleMask) Bounds() image.Rectangle {
	r := int(c.radius + 1)
	return image.Rect(c.center.X-r, c.center.Y-r, c.center.X+r+1, c.center.Y+r+1)
}

func (c *circleMask) At(x, y int) color.Color {
	dx := float64(x - c.center.X)
	dy := float64(y - c.center.Y)
	if dx*dx+dy*dy <= c.radius*c.radius {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}

// DrawCursor composites the pointer marker onto a PNG screenshot: a
// translucent disc with a radius of 5% of the shorter side and an opaque dot a
// tenth of that size at its center.
func DrawCursor(pngData []byte, at Point) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	radius := float64(short) * 0.05
	center := image.Pt(b.Min.X+at.X, b.Min.Y+at.Y)

	outer := &circleMask{center: center, radius: radius}
	draw.DrawMask(dst, outer.Bounds().Intersect(b), image.NewUniform(cursorFill), image.Point{}, outer, outer.Bounds().Intersect(b).Min, draw.Over)

	inner := &circleMask{center: center, radius: radius * 0.1}
	draw.DrawMask(dst, inner.Bounds().Intersect(b), image.NewUniform(cursorDot), image.Point{}, inner, inner.Bounds().Intersect(b).Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
