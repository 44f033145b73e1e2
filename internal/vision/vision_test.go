package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestLargest(t *testing.T) {
	tests := []struct {
		name    string
		regions []Region
		want    Region
		ok      bool
	}{
		{"empty", nil, Region{}, false},
		{"single", []Region{{1, 1, 10, 10}}, Region{1, 1, 10, 10}, true},
		{"max area", []Region{{0, 0, 10, 10}, {5, 5, 20, 20}, {0, 0, 15, 15}}, Region{5, 5, 20, 20}, true},
		{"tie keeps first", []Region{{0, 0, 10, 20}, {50, 50, 20, 10}}, Region{0, 0, 10, 20}, true},
		{"zero area only", []Region{{5, 5, 0, 10}, {1, 1, 10, -3}}, Region{}, false},
		{"zero area skipped", []Region{{0, 0, 0, 0}, {3, 3, 4, 4}}, Region{3, 3, 4, 4}, true},
	}
	for _, tt := range tests {
		got, ok := Largest(tt.regions)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: Largest() = %+v %v, want %+v %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCrop(t *testing.T) {
	f := NewJPEGFrame(testJPEG(t, 64, 48))
	if f.Width != 64 || f.Height != 48 {
		t.Fatalf("NewJPEGFrame dims = %dx%d", f.Width, f.Height)
	}

	// Region extends past the right edge and is clipped.
	out, err := Crop(f, Region{X: 40, Y: 10, W: 40, H: 20})
	if err != nil {
		t.Fatalf("Crop() error: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	if cfg.Width != 24 || cfg.Height != 20 {
		t.Errorf("crop dims = %dx%d, want 24x20", cfg.Width, cfg.Height)
	}

	if _, err = Crop(f, Region{X: 100, Y: 100, W: 5, H: 5}); err == nil {
		t.Error("Crop() outside frame should fail")
	}
}

func TestAnnotateKeepsSize(t *testing.T) {
	f := NewJPEGFrame(testJPEG(t, 32, 32))
	out, err := Annotate(f, Region{X: 4, Y: 4, W: 16, H: 16}, emotion.Happiness)
	if err != nil {
		t.Fatalf("Annotate() error: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 32 {
		t.Errorf("annotated dims = %dx%d, want 32x32", cfg.Width, cfg.Height)
	}
}

func TestStillSourceLoops(t *testing.T) {
	data := testJPEG(t, 8, 8)
	src := NewStillSourceFromFrames([]Frame{NewJPEGFrame(data), NewJPEGFrame(data)})
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		f, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next() #%d error: %v", i, err)
		}
		if f.Seq != i {
			t.Errorf("Seq = %d, want %d", f.Seq, i)
		}
	}

	src.Close()
	if _, err := src.Next(ctx); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Next() after Close = %v, want ErrSourceClosed", err)
	}
}
