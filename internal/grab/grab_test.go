package grab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brogergvhs/wxstrip/internal/downloader"
	"github.com/brogergvhs/wxstrip/internal/export"
	"github.com/brogergvhs/wxstrip/internal/page"
	"github.com/brogergvhs/wxstrip/internal/stamp"
	"github.com/brogergvhs/wxstrip/internal/strip"
	"github.com/brogergvhs/wxstrip/internal/ui"
)

const (
	chartW = 6
	chartH = 4
)

var runStart = time.Date(2023, time.December, 31, 11, 0, 0, 0, time.UTC)

// chartTime is the forecast time of chart i, six hours apart.
func chartTime(i int) time.Time {
	return runStart.Add(time.Duration(i) * 6 * time.Hour)
}

func chartAlt(i int) string {
	t := chartTime(i)
	return fmt.Sprintf("Mean sea level pressure %d %s %d %d UTC", t.Day(), t.Format("Jan"), t.Year(), t.Hour())
}

func expectedName(prefix string, i int) string {
	name := chartTime(i).Add(9*time.Hour).Format("010215") + ".png"
	if prefix != "" {
		return prefix + "_" + name
	}
	return name
}

func chartColor(i int) color.NRGBA {
	return color.NRGBA{R: uint8(10 * (i + 1)), G: 100, B: 200, A: 255}
}

type chartServer struct {
	*httptest.Server
	hits atomic.Int64
}

// newChartServer serves /charts/<i>.png as a solid chart. /charts/broken.png
// and anything else answer 404.
func newChartServer(t *testing.T) *chartServer {
	t.Helper()

	cs := &chartServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)

		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/charts/%d.png", &i); err != nil {
			http.NotFound(w, r)
			return
		}

		img := image.NewNRGBA(image.Rect(0, 0, chartW, chartH))
		for y := 0; y < chartH; y++ {
			for x := 0; x < chartW; x++ {
				img.SetNRGBA(x, y, chartColor(i))
			}
		}

		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, img)
	}))
	t.Cleanup(cs.Close)

	return cs
}

// chartPage builds a page with n charts. Indices in broken point at a
// missing image.
func chartPage(t *testing.T, base, model string, n int, broken ...int) *page.Document {
	t.Helper()

	skip := map[int]bool{}
	for _, b := range broken {
		skip[b] = true
	}

	var sb strings.Builder
	sb.WriteString("<html><body><main>")
	fmt.Fprintf(&sb, "<p>Charts from the %s model</p>", model)
	for i := 0; i < n; i++ {
		src := fmt.Sprintf("/charts/%d.png", i)
		if skip[i] {
			src = "/charts/broken.png"
		}
		fmt.Fprintf(&sb, `<img src="%s" alt="%s">`, src, chartAlt(i))
	}
	sb.WriteString(`<img src="/charts/logo.png" alt="logo">`)
	sb.WriteString("</main></body></html>")

	d, err := page.Parse(strings.NewReader(sb.String()), base+"/models/")
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	return d
}

type harness struct {
	runner    *Runner
	fetcher   *downloader.Fetcher
	mem       *export.Memory
	log       *bytes.Buffer
	completed int
}

func newHarness(cs *chartServer, settings Settings) *harness {
	h := &harness{
		fetcher: downloader.New(cs.Client(), ""),
		mem:     export.NewMemory(),
		log:     &bytes.Buffer{},
	}

	settings.Pause = time.Millisecond
	h.runner = &Runner{
		Loader:     h.fetcher,
		Exporter:   h.mem,
		Log:        ui.NewLoggerTo(h.log, true),
		Settings:   settings,
		Stats:      &ui.Stats{},
		OnComplete: func() { h.completed++ },
	}
	return h
}

func decodePNG(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("export is not a PNG: %v", err)
	}

	out := image.NewNRGBA(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func TestRunBatches(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())
	doc := chartPage(t, cs.URL, "ECMWF AIFS", 23)

	out, err := h.runner.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, h.log)
	}

	if out.State != StateDone {
		t.Errorf("expected state done, got %s", out.State)
	}
	if out.Images != 23 || out.Batches != 3 {
		t.Errorf("expected 23 images in 3 batches, got %d in %d", out.Images, out.Batches)
	}
	if out.Prefix != "AIFS" {
		t.Errorf("expected AIFS prefix, got %q", out.Prefix)
	}
	if out.Dimensions != (strip.Dimensions{Width: chartW, Height: chartH}) {
		t.Errorf("unexpected probed dimensions %v", out.Dimensions)
	}
	if h.completed != 1 {
		t.Errorf("expected completion notice once, got %d", h.completed)
	}

	wantNames := []string{expectedName("AIFS", 0), expectedName("AIFS", 10), expectedName("AIFS", 20)}
	wantWidths := []int{10 * chartW, 10 * chartW, 3 * chartW}

	names := h.mem.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 exports, got %v", names)
	}

	for i, name := range names {
		if name != wantNames[i] {
			t.Errorf("export %d named %q, expected %q", i, name, wantNames[i])
		}

		data, _ := h.mem.File(name)
		img := decodePNG(t, data)
		if img.Bounds().Dx() != wantWidths[i] || img.Bounds().Dy() != chartH {
			t.Errorf("export %d is %dx%d, expected %dx%d", i, img.Bounds().Dx(), img.Bounds().Dy(), wantWidths[i], chartH)
		}

		// slot k of batch i holds chart 10*i+k
		for k := 0; k*chartW < img.Bounds().Dx(); k++ {
			if got := img.NRGBAAt(k*chartW+1, 1); got != chartColor(10*i+k) {
				t.Errorf("batch %d slot %d pixel %v, expected %v", i, k, got, chartColor(10*i+k))
			}
		}
	}

	// one probe plus one fetch per chart
	if got := h.fetcher.Fetched(); got != 24 {
		t.Errorf("expected 24 fetches, got %d", got)
	}
	if got := h.runner.Stats.TotalFiles.Load(); got != 3 {
		t.Errorf("expected 3 files in stats, got %d", got)
	}
}

func TestRunNoImages(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())
	doc := chartPage(t, cs.URL, "AIFS", 0)

	out, err := h.runner.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.State != StateDone {
		t.Errorf("expected state done, got %s", out.State)
	}
	if cs.hits.Load() != 0 || h.fetcher.Fetched() != 0 {
		t.Errorf("expected no fetches, got %d", cs.hits.Load())
	}
	if len(h.mem.Names()) != 0 {
		t.Errorf("expected no exports, got %v", h.mem.Names())
	}
	if !strings.Contains(h.log.String(), "[INFO] No images with 'UTC' in alt text found.") {
		t.Errorf("expected informational log, got %q", h.log.String())
	}
	if h.completed != 0 {
		t.Error("completion notice shown for an empty page")
	}
}

func TestRunSingleNoImagesStillNotifies(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, SingleSettings())

	out, err := h.runner.Run(context.Background(), chartPage(t, cs.URL, "AIFS", 0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.State != StateDone {
		t.Errorf("expected done, got %s", out.State)
	}
	if cs.hits.Load() != 0 || len(h.mem.Names()) != 0 {
		t.Errorf("expected no fetches or exports, got %d fetches, %v", cs.hits.Load(), h.mem.Names())
	}
	if h.completed != 1 {
		t.Errorf("expected one completion notice, got %d", h.completed)
	}
}

func TestRunBlankSlot(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())
	doc := chartPage(t, cs.URL, "GraphCast", 5, 2)

	out, err := h.runner.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, h.log)
	}

	if len(out.Failures) != 1 || out.Failures[0].Image.Index != 2 {
		t.Fatalf("expected image 2 to fail, got %+v", out.Failures)
	}

	var fe *downloader.FetchError
	if !errors.As(out.Failures[0].Err, &fe) {
		t.Errorf("expected *FetchError, got %v", out.Failures[0].Err)
	}

	want := expectedName("GraphCast", 0)
	data, ok := h.mem.File(want)
	if !ok {
		t.Fatalf("expected export %q, got %v", want, h.mem.Names())
	}

	img := decodePNG(t, data)
	if img.Bounds().Dx() != 5*chartW {
		t.Errorf("expected width %d, got %d", 5*chartW, img.Bounds().Dx())
	}

	// images after the failed one move left; the blank slot is last
	for slot, idx := range []int{0, 1, 3, 4} {
		if got := img.NRGBAAt(slot*chartW+1, 1); got != chartColor(idx) {
			t.Errorf("slot %d = %v, expected image %d", slot, got, idx)
		}
	}
	if got := img.NRGBAAt(4*chartW+1, 1); got.A != 0 {
		t.Errorf("last slot is not blank: %v", got)
	}

	if !strings.Contains(h.log.String(), "for Batch 1") {
		t.Errorf("expected per-image error log, got %q", h.log.String())
	}
	if h.completed != 1 {
		t.Error("expected completion notice")
	}
}

func TestRunProbeFailureAborts(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())
	doc := chartPage(t, cs.URL, "AIFS", 3, 0)

	out, err := h.runner.Run(context.Background(), doc)
	if err == nil {
		t.Fatal("expected probe failure")
	}

	if out.State != StateAborted {
		t.Errorf("expected aborted state, got %s", out.State)
	}
	if len(h.mem.Names()) != 0 {
		t.Errorf("expected no exports, got %v", h.mem.Names())
	}
	if h.completed != 0 {
		t.Error("completion notice shown for an aborted run")
	}
	if h.fetcher.Fetched() != 1 {
		t.Errorf("expected only the probe fetch, got %d", h.fetcher.Fetched())
	}
}

func TestRunParseErrorAborts(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, Settings{Mode: ModeBatch, BatchSize: 2, EncodeTimeout: time.Second})

	html := fmt.Sprintf(`<body><main><p>AIFS</p>
<img src="/charts/0.png" alt="%s">
<img src="/charts/1.png" alt="%s">
<img src="/charts/2.png" alt="3 Foo 2024 0 UTC">
<img src="/charts/3.png" alt="%s">
</main></body>`, chartAlt(0), chartAlt(1), chartAlt(3))

	doc, err := page.Parse(strings.NewReader(html), cs.URL+"/")
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.runner.Run(context.Background(), doc)

	var pe *stamp.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if out.State != StateAborted {
		t.Errorf("expected aborted state, got %s", out.State)
	}
	if names := h.mem.Names(); len(names) != 1 || names[0] != expectedName("AIFS", 0) {
		t.Errorf("expected only the first batch to export, got %v", names)
	}
	if h.completed != 0 {
		t.Error("completion notice shown for an aborted run")
	}
}

func TestRunSerializationTimeoutAborts(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())
	h.runner.Encode = func(context.Context, image.Image, time.Duration) ([]byte, error) {
		return nil, &strip.SerializationError{Timeout: 15 * time.Second}
	}

	out, err := h.runner.Run(context.Background(), chartPage(t, cs.URL, "AIFS", 12))

	var se *strip.SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SerializationError, got %v", err)
	}
	if out.State != StateAborted || out.Batches != 0 {
		t.Errorf("expected abort before any export, got %s with %d batches", out.State, out.Batches)
	}
}

func TestRunNoPrefix(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())

	if _, err := h.runner.Run(context.Background(), chartPage(t, cs.URL, "IFS HRES", 2)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if names := h.mem.Names(); len(names) != 1 || names[0] != expectedName("", 0) {
		t.Errorf("expected unprefixed export, got %v", names)
	}
}

func TestRunSingle(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, SingleSettings())

	html := fmt.Sprintf(`<body><main><p>AIFS</p>
<img src="/charts/0.png" alt="%s">
<img src="/charts/broken.png" alt="%s">
<img src="/charts/2.png" alt="2 Foo 2024 0 UTC">
<img src="/charts/3.png" alt="%s">
</main></body>`, chartAlt(0), chartAlt(1), chartAlt(3))

	doc, err := page.Parse(strings.NewReader(html), cs.URL+"/")
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.runner.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{expectedName("", 0), expectedName("", 3)}
	names := h.mem.Names()
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("expected exports %v, got %v", want, names)
	}
	if len(out.Failures) != 2 {
		t.Errorf("expected 2 isolated failures, got %+v", out.Failures)
	}
	if out.State != StateDone || h.completed != 1 {
		t.Errorf("expected done with notice, got %s (notices %d)", out.State, h.completed)
	}

	data, _ := h.mem.File(want[0])
	if img := decodePNG(t, data); img.Bounds().Dx() != chartW || img.Bounds().Dy() != chartH {
		t.Errorf("single export has size %v", img.Bounds())
	}
}

func TestRunCancelledDuringPause(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, Settings{Mode: ModeBatch, BatchSize: 1, EncodeTimeout: time.Second})
	h.runner.Settings.Pause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	h.runner.Exporter = exportFunc(func(ctx context.Context, data []byte, name string) error {
		cancel()
		return nil
	})

	out, err := h.runner.Run(ctx, chartPage(t, cs.URL, "AIFS", 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.State != StateAborted || out.Batches != 1 {
		t.Errorf("expected abort after one batch, got %s with %d", out.State, out.Batches)
	}
}

type loaderFunc func(ctx context.Context, src string) (image.Image, error)

func (f loaderFunc) Image(ctx context.Context, src string) (image.Image, error) {
	return f(ctx, src)
}

func TestRunCancelledDuringCompose(t *testing.T) {
	cs := newChartServer(t)
	h := newHarness(cs, BatchSettings())

	pm := ui.NewProgressManager(io.Discard)
	h.runner.Bars = pm

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	h.runner.Loader = loaderFunc(func(ctx context.Context, src string) (image.Image, error) {
		// probe plus first slot, then the user interrupts
		if calls.Add(1) == 3 {
			cancel()
		}
		return h.fetcher.Image(ctx, src)
	})

	out, err := h.runner.Run(ctx, chartPage(t, cs.URL, "AIFS", 5))
	pm.Close()

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.State != StateAborted || len(h.mem.Names()) != 0 {
		t.Errorf("expected abort without export, got %s and %v", out.State, h.mem.Names())
	}
	if h.completed != 0 {
		t.Error("completion notice shown for a cancelled run")
	}
}

type exportFunc func(ctx context.Context, data []byte, name string) error

func (f exportFunc) Export(ctx context.Context, data []byte, name string) error {
	return f(ctx, data, name)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"batch", ModeBatch, false},
		{"single", ModeSingle, false},
		{"", ModeBatch, false},
		{"strip", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}

	if s := SettingsFor(ModeSingle); s.EncodeTimeout != 5*time.Second || s.Pause != 100*time.Millisecond {
		t.Errorf("unexpected single settings %+v", s)
	}
	if s := SettingsFor(ModeBatch); s.EncodeTimeout != 15*time.Second || s.Pause != 500*time.Millisecond || s.BatchSize != 10 {
		t.Errorf("unexpected batch settings %+v", s)
	}
}
