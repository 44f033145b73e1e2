package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

const (
	cropQuality     = 90
	annotateQuality = 70
	boxThickness    = 2
)

var labelColors = map[emotion.Label]color.RGBA{
	emotion.Anger:     {R: 220, G: 40, B: 40, A: 255},
	emotion.Disgust:   {R: 40, G: 180, B: 60, A: 255},
	emotion.Fear:      {R: 190, G: 60, B: 200, A: 255},
	emotion.Happiness: {R: 240, G: 210, B: 40, A: 255},
	emotion.Sadness:   {R: 50, G: 90, B: 220, A: 255},
	emotion.Surprise:  {R: 40, G: 200, B: 210, A: 255},
	emotion.Neutral:   {R: 235, G: 235, B: 235, A: 255},
}

// LabelColor returns the overlay color for l; unknown or empty labels are white.
func LabelColor(l emotion.Label) color.RGBA {
	if c, ok := labelColors[l]; ok {
		return c
	}
	return labelColors[emotion.Neutral]
}

// Crop decodes the frame and re-encodes the region (clipped to the frame
// bounds) as a standalone JPEG.
func Crop(f Frame, r Region) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, fmt.Errorf("crop decode: %w", err)
	}
	rect := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop: region %+v outside frame %v", r, img.Bounds())
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: cropQuality}); err != nil {
		return nil, fmt.Errorf("crop encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Annotate draws a box around r in the color of label and returns the
// re-encoded frame.
func Annotate(f Frame, r Region, label emotion.Label) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, fmt.Errorf("annotate decode: %w", err)
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)

	box := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H).Intersect(dst.Bounds())
	if !box.Empty() {
		drawBox(dst, box, LabelColor(label))
	}

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: annotateQuality}); err != nil {
		return nil, fmt.Errorf("annotate encode: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(dst *image.RGBA, box image.Rectangle, c color.RGBA) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+boxThickness),
		image.Rect(box.Min.X, box.Max.Y-boxThickness, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+boxThickness, box.Max.Y),
		image.Rect(box.Max.X-boxThickness, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(box), src, image.Point{}, draw.Src)
	}
}
