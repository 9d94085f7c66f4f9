package grab

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/brogergvhs/wxstrip/internal/export"
	"github.com/brogergvhs/wxstrip/internal/page"
	"github.com/brogergvhs/wxstrip/internal/stamp"
	"github.com/brogergvhs/wxstrip/internal/strip"
	"github.com/brogergvhs/wxstrip/internal/ui"
)

type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeSingle Mode = "single"
)

// ParseMode accepts "batch" or "single".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBatch, ModeSingle:
		return Mode(s), nil
	case "":
		return ModeBatch, nil
	}
	return "", fmt.Errorf("unknown mode %q (want batch or single)", s)
}

type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateProbing     State = "probing_dimensions"
	StatePrefix      State = "extracting_prefix"
	StateCompositing State = "compositing"
	StateExporting   State = "exporting"
	StatePausing     State = "pausing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Settings are the fixed knobs of a mode.
type Settings struct {
	Mode          Mode
	BatchSize     int
	EncodeTimeout time.Duration
	Pause         time.Duration
}

func BatchSettings() Settings {
	return Settings{
		Mode:          ModeBatch,
		BatchSize:     strip.DefaultBatchSize,
		EncodeTimeout: 15 * time.Second,
		Pause:         500 * time.Millisecond,
	}
}

func SingleSettings() Settings {
	return Settings{
		Mode:          ModeSingle,
		BatchSize:     1,
		EncodeTimeout: 5 * time.Second,
		Pause:         100 * time.Millisecond,
	}
}

// SettingsFor returns the defaults of m.
func SettingsFor(m Mode) Settings {
	if m == ModeSingle {
		return SingleSettings()
	}
	return BatchSettings()
}

// Source is the discovered page.
type Source interface {
	Discover() []page.Image
	Prefix() (prefix string, reason string)
}

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Failure is an image that did not make it into an export.
type Failure struct {
	Image page.Image
	Err   error
}

// Outcome describes a finished (or aborted) run.
type Outcome struct {
	State      State
	Images     int
	Batches    int
	Prefix     string
	Dimensions strip.Dimensions
	Files      []string
	Failures   []Failure
	Bytes      int64
}

type Runner struct {
	Loader   strip.Loader
	Exporter export.Exporter
	Log      Logger
	Settings Settings

	// Bars shows one progress bar per batch when set.
	Bars *ui.MPBProgressManager
	// Stats is updated as files are written when set.
	Stats *ui.Stats
	// OnComplete is called once after a run reaches Done. A batch run
	// over an empty page ends without it.
	OnComplete func()

	// Encode defaults to strip.Encode.
	Encode func(ctx context.Context, img image.Image, timeout time.Duration) ([]byte, error)
}

// Run executes one full export over src. The returned error is non-nil
// exactly when the outcome state is Aborted.
func (r *Runner) Run(ctx context.Context, src Source) (*Outcome, error) {
	out := &Outcome{State: StateIdle}

	out.State = StateDiscovering
	images := src.Discover()
	out.Images = len(images)

	switch {
	case len(images) == 0 && r.Settings.Mode != ModeSingle:
		r.Log.Infof("No images with 'UTC' in alt text found.\n")
		out.State = StateDone
		return out, nil
	case len(images) == 0:
		// single mode walks the empty list and still shows the notice
		r.Log.Infof("No images with 'UTC' in alt text found.\n")
	default:
		r.Log.Infof("Found %d images with 'UTC' in alt text.\n", len(images))
	}

	var err error
	if r.Settings.Mode == ModeSingle {
		err = r.runSingle(ctx, images, out)
	} else {
		err = r.runBatches(ctx, src, images, out)
	}

	if err != nil {
		out.State = StateAborted
		return out, err
	}

	out.State = StateDone
	if r.OnComplete != nil {
		r.OnComplete()
	}

	return out, nil
}

func (r *Runner) runBatches(ctx context.Context, src Source, images []page.Image, out *Outcome) error {
	out.State = StateProbing
	first, err := r.Loader.Image(ctx, images[0].Src)
	if err != nil {
		r.Log.Errorf("Error getting dimensions from first image: %v\n", err)
		return fmt.Errorf("probing dimensions: %w", err)
	}

	dims := strip.Probe(first)
	out.Dimensions = dims
	r.Log.Debugf("Probed dimensions %s from %s\n", dims, images[0].Src)

	out.State = StatePrefix
	prefix, reason := src.Prefix()
	if prefix != "" {
		r.Log.Infof("AI model: %s\n", prefix)
	} else {
		r.Log.Infof("No filename prefix: %s.\n", reason)
	}
	out.Prefix = prefix

	batches := strip.Partition(images, r.Settings.BatchSize)
	for i, b := range batches {
		n := i + 1

		out.State = StateCompositing
		canvas := r.compose(ctx, n, b, dims, out)
		if err := ctx.Err(); err != nil {
			return err
		}

		out.State = StateExporting
		data, err := r.encode(ctx, canvas)
		if err != nil {
			r.Log.Errorf("Batch %d: %v\n", n, err)
			return fmt.Errorf("batch %d: %w", n, err)
		}

		name, err := stamp.Filename(b[0].Alt, prefix)
		if err != nil {
			r.Log.Errorf("Batch %d: %v\n", n, err)
			return fmt.Errorf("batch %d: %w", n, err)
		}

		if err := r.Exporter.Export(ctx, data, name); err != nil {
			r.Log.Errorf("Batch %d: %v\n", n, err)
			return fmt.Errorf("batch %d: %w", n, err)
		}

		r.written(out, name, data)
		out.Batches++
		r.Log.Infof("Successfully exported batch image: %s\n", name)

		out.State = StatePausing
		if err := pause(ctx, r.Settings.Pause); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) compose(ctx context.Context, n int, b strip.Batch, dims strip.Dimensions, out *Outcome) *image.NRGBA {
	var bar *ui.ProgressHandle
	if r.Bars != nil {
		bar = r.Bars.Register(fmt.Sprintf("Batch %d", n), len(b))
	}

	canvas, failed := strip.Compose(ctx, b, dims, r.Loader, func(_ int, err error) {
		if bar != nil {
			bar.Slot(err)
		}
	})

	if bar != nil {
		if ctx.Err() != nil {
			bar.Abort()
		} else {
			bar.MarkDone()
		}
	}

	for _, f := range failed {
		r.Log.Errorf("Error processing image %s for Batch %d: %v\n", f.Image.Src, n, f.Err)
		out.Failures = append(out.Failures, Failure{Image: f.Image, Err: f.Err})
		if r.Stats != nil {
			r.Stats.FailedImages.Add(1)
		}
	}
	if r.Stats != nil {
		r.Stats.TotalImages.Add(int64(len(b) - len(failed)))
	}

	return canvas
}

func (r *Runner) runSingle(ctx context.Context, images []page.Image, out *Outcome) error {
	for _, im := range images {
		out.State = StateExporting
		name, data, err := r.single(ctx, im)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			r.Log.Errorf("Error downloading image %s: %v\n", im.Src, err)
			out.Failures = append(out.Failures, Failure{Image: im, Err: err})
			if r.Stats != nil {
				r.Stats.FailedImages.Add(1)
			}
		} else {
			r.written(out, name, data)
			out.Batches++
			r.Log.Infof("%s\n", name)
			if r.Stats != nil {
				r.Stats.TotalImages.Add(1)
			}
		}

		out.State = StatePausing
		if err := pause(ctx, r.Settings.Pause); err != nil {
			return err
		}
	}

	return nil
}

// single exports one chart at its natural size.
func (r *Runner) single(ctx context.Context, im page.Image) (string, []byte, error) {
	src, err := r.Loader.Image(ctx, im.Src)
	if err != nil {
		return "", nil, err
	}

	dims := strip.Probe(src)
	canvas := image.NewNRGBA(dims.Canvas(1))
	strip.Place(canvas, src, dims.Slot(0))

	data, err := r.encode(ctx, canvas)
	if err != nil {
		return "", nil, err
	}

	name, err := stamp.Filename(im.Alt, "")
	if err != nil {
		return "", nil, err
	}

	if err := r.Exporter.Export(ctx, data, name); err != nil {
		return "", nil, err
	}

	return name, data, nil
}

func (r *Runner) encode(ctx context.Context, img image.Image) ([]byte, error) {
	enc := r.Encode
	if enc == nil {
		enc = strip.Encode
	}
	return enc(ctx, img, r.Settings.EncodeTimeout)
}

func (r *Runner) written(out *Outcome, name string, data []byte) {
	out.Files = append(out.Files, name)
	out.Bytes += int64(len(data))
	if r.Stats != nil {
		r.Stats.TotalFiles.Add(1)
		r.Stats.TotalBytes.Add(int64(len(data)))
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
