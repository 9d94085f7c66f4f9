// Package downloader fetches and decodes single chart images. Every call is
// one plain GET with no retry; callers decide whether a failure is fatal.
package downloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	// decoders registered with image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// FetchError wraps a transport or status failure. The Content-Type of a
// response is not trusted; image.Decode sniffs the bytes.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError wraps a failure to turn fetched bytes into a bitmap.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.URL, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

type Fetcher struct {
	client  *http.Client
	referer string
	timeout time.Duration

	fetched atomic.Int64
	bytes   atomic.Int64
}

// New returns a Fetcher. referer is sent with every request when set.
func New(c *http.Client, referer string) *Fetcher {
	return &Fetcher{
		client:  c,
		referer: referer,
		timeout: 30 * time.Second,
	}
}

// Fetched reports how many fetches were attempted.
func (f *Fetcher) Fetched() int64 { return f.fetched.Load() }

// Bytes reports the total number of bytes read.
func (f *Fetcher) Bytes() int64 { return f.bytes.Load() }

// Image fetches src and decodes it.
func (f *Fetcher) Image(ctx context.Context, src string) (image.Image, error) {
	data, err := f.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{URL: shorten(src), Err: err}
	}

	return img, nil
}

// Fetch returns the raw bytes behind src. http(s) URLs are requested with
// browser-like headers, data: URLs are decoded inline, file:// URLs and
// bare paths are read from disk.
func (f *Fetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	f.fetched.Add(1)

	if isDataURL(src) {
		data, err := decodeDataURL(src)
		if err != nil {
			return nil, &FetchError{URL: shorten(src), Err: err}
		}
		f.bytes.Add(int64(len(data)))
		return data, nil
	}

	if path, ok := localPath(src); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &FetchError{URL: src, Err: err}
		}
		f.bytes.Add(int64(len(data)))
		return data, nil
	}

	data, err := f.get(ctx, src)
	if err != nil {
		return nil, &FetchError{URL: src, Err: err}
	}

	return data, nil
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}

	var last int64
	_, err = copyWithProgress(&buf, resp.Body, func(done int64) {
		f.bytes.Add(done - last)
		last = done
	})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func localPath(src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil {
		return src, true
	}

	switch u.Scheme {
	case "http", "https":
		return "", false
	case "file":
		return u.Path, true
	case "":
		return src, true
	default:
		// blob: and friends are not fetchable here
		return "", false
	}
}

func isDataURL(src string) bool {
	return len(src) > 5 && strings.EqualFold(src[:5], "data:")
}

// decodeDataURL returns the payload of an RFC 2397 data: URL.
func decodeDataURL(src string) ([]byte, error) {
	meta, payload, ok := strings.Cut(src[5:], ",")
	if !ok {
		return nil, errors.New("malformed data URL: missing comma")
	}

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		if unesc, err := url.PathUnescape(payload); err == nil {
			payload = unesc
		}

		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// unpadded payloads show up in the wild
			if data, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err2 == nil {
				return data, nil
			}
			return nil, fmt.Errorf("malformed data URL: %w", err)
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URL: %w", err)
	}
	return []byte(data), nil
}

// shorten keeps inline payloads out of error messages.
func shorten(src string) string {
	if isDataURL(src) && len(src) > 48 {
		return src[:48] + "..."
	}
	return src
}
