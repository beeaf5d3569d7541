package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ericpauley/go-quantize/quantize"
	"github.com/nfnt/resize"
)

// MaxEncodedSize is the largest GIF the device accepts (200 KiB)
const MaxEncodedSize = 200 * 1024

// ErrTooLarge is returned when the encoded GIF exceeds MaxEncodedSize
var ErrTooLarge = errors.New("encoded image too large")

// Resize stretches the frame to width x height with bilinear interpolation.
// The aspect ratio is not preserved.
func Resize(f Frame, width, height int) Frame {
	if f.Width() == width && f.Height() == height {
		return f
	}
	return Frame{
		Image: resize.Resize(uint(width), uint(height), f.Image, resize.Bilinear),
		Delay: f.Delay,
	}
}

// Encode writes frames as a looping GIF. Each frame gets its own palette of
// at most 256 colours.
func Encode(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	out := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		Disposal:  make([]byte, len(frames)),
		LoopCount: 0,
	}
	q := quantize.MedianCutQuantizer{}
	for i, f := range frames {
		out.Image[i] = palettize(q, f.Image)
		out.Delay[i] = hundredths(f.Delay)
		out.Disposal[i] = gif.DisposalNone
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

// CheckSize rejects encoded output the device would refuse
func CheckSize(data []byte) error {
	if len(data) > MaxEncodedSize {
		return fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(MaxEncodedSize))
	}
	return nil
}

func palettize(q draw.Quantizer, img image.Image) *image.Paletted {
	b := img.Bounds()
	palette := q.Quantize(make(color.Palette, 0, 256), img)
	if len(palette) == 0 {
		palette = color.Palette{color.Black}
	}
	p := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette)
	draw.Draw(p, p.Bounds(), img, b.Min, draw.Src)
	return p
}

func hundredths(d time.Duration) int {
	return int((d + 5*time.Millisecond) / (10 * time.Millisecond))
}
