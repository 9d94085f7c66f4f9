// Package strip composites batches of equally sized chart images side by
// side onto one canvas and encodes the result as PNG.
package strip

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"

	"golang.org/x/image/draw"

	"github.com/brogergvhs/wxstrip/internal/page"
)

const DefaultBatchSize = 10

// Dimensions is the slot size every image in a run is drawn at. It is
// probed once from the first image and never re-measured.
type Dimensions struct {
	Width  int
	Height int
}

// Probe records the size of img.
func Probe(img image.Image) Dimensions {
	b := img.Bounds()
	return Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// Canvas returns the bounds of a strip holding n slots.
func (d Dimensions) Canvas(n int) image.Rectangle {
	return image.Rect(0, 0, d.Width*n, d.Height)
}

// Slot returns the bounds of slot i.
func (d Dimensions) Slot(i int) image.Rectangle {
	return image.Rect(i*d.Width, 0, (i+1)*d.Width, d.Height)
}

func (d Dimensions) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// Batch is a contiguous run of images exported as one file.
type Batch []page.Image

// Partition splits images into contiguous batches of at most size. The last
// batch may be shorter. size below 1 is treated as 1.
func Partition(images []page.Image, size int) []Batch {
	if size < 1 {
		size = 1
	}

	out := make([]Batch, 0, (len(images)+size-1)/size)
	for i := 0; i < len(images); i += size {
		end := min(i+size, len(images))
		out = append(out, Batch(images[i:end]))
	}

	return out
}

// Loader fetches and decodes one image.
type Loader interface {
	Image(ctx context.Context, src string) (image.Image, error)
}

// SlotError records an image that could not be drawn. Slot is its
// position in the batch.
type SlotError struct {
	Slot  int
	Image page.Image
	Err   error
}

func (e SlotError) Error() string {
	return fmt.Sprintf("image %d (%s): %v", e.Slot, e.Image.Src, e.Err)
}

func (e SlotError) Unwrap() error { return e.Err }

// Compose draws the images of b left to right, each at the next unused
// slot. A failed image takes no slot, so every blank slot ends up at the
// right-hand end of the canvas. done is called after each image when
// non-nil.
func Compose(ctx context.Context, b Batch, dims Dimensions, l Loader, done func(slot int, err error)) (*image.NRGBA, []SlotError) {
	canvas := image.NewNRGBA(dims.Canvas(len(b)))
	var failed []SlotError

	next := 0
	for i, im := range b {
		src, err := l.Image(ctx, im.Src)
		if err == nil {
			Place(canvas, src, dims.Slot(next))
			next++
		} else {
			failed = append(failed, SlotError{Slot: i, Image: im, Err: err})
		}

		if done != nil {
			done(i, err)
		}
	}

	return canvas, failed
}

// Place draws src into r, scaling it when its size differs from r.
func Place(dst draw.Image, src image.Image, r image.Rectangle) {
	sb := src.Bounds()
	if sb.Size() == r.Size() {
		draw.Draw(dst, r, src, sb.Min, draw.Over)
		return
	}

	draw.CatmullRom.Scale(dst, r, src, sb, draw.Over, nil)
}

// SerializationError is returned when encoding does not finish in time.
type SerializationError struct {
	Timeout time.Duration
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("timeout converting canvas to PNG after %s", e.Timeout)
}

var encodePNG = func(w io.Writer, m image.Image) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(w, m)
}

// Encode serialises img as PNG. It fails with *SerializationError if the
// encoder has not finished after timeout.
func Encode(ctx context.Context, img image.Image, timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	// buffered so the encoder goroutine can finish after a timeout
	ch := make(chan result, 1)
	enc := encodePNG
	go func() {
		var buf bytes.Buffer
		err := enc(&buf, img)
		ch <- result{data: buf.Bytes(), err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", r.err)
		}
		return r.data, nil
	case <-timer.C:
		return nil, &SerializationError{Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
