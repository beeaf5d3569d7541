// Package imaging converts user supplied pictures into GIFs sized for the
// matrix.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"time"

	// Still image formats accepted as upload sources
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// StillFrameDelay is the display time given to a single-frame source
const StillFrameDelay = 100 * time.Millisecond

var (
	// ErrDecode is returned when the source cannot be read as an image
	ErrDecode = errors.New("failed to decode image")
	// ErrNoFrames is returned for an animation without frames
	ErrNoFrames = errors.New("image has no frames")
)

// Frame is one fully composited picture of an animation
type Frame struct {
	Image image.Image
	Delay time.Duration
}

// Width returns the frame width in pixels
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Decode reads data as a GIF animation or a still image depending on its
// content, not its file name.
func Decode(data []byte) ([]Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	mime := mimetype.Detect(data)
	if mime.Is("image/gif") {
		return decodeGIF(data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrDecode, mime.String(), err)
	}
	return []Frame{{Image: toRGBA(img), Delay: StillFrameDelay}}, nil
}

// decodeGIF composites every frame onto the logical screen, honouring the
// disposal method of the previous frame.
func decodeGIF(data []byte) ([]Frame, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w (image/gif): %v", ErrDecode, err)
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, p := range g.Image {
			bounds = bounds.Union(p.Bounds())
		}
	}

	canvas := image.NewRGBA(bounds)
	frames := make([]Frame, 0, len(g.Image))
	for i, p := range g.Image {
		var previous *image.RGBA
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, p.Bounds(), p, p.Bounds().Min, draw.Over)

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i]
		}
		frames = append(frames, Frame{
			Image: cloneRGBA(canvas),
			Delay: time.Duration(delay*10) * time.Millisecond,
		})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, p.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}

	return frames, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	out := image.NewRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	return out
}
