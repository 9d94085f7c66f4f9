// Package render loads pages whose chart images are only inserted by
// JavaScript. It drives headless Chrome through Rod and hands back the
// serialised DOM once the page has loaded.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

type Options struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local headless instance.
	RemoteURL string

	// Settle is waited after the load event so late image inserts land.
	Settle time.Duration

	// Timeout bounds navigation plus settle. Default 60s.
	Timeout time.Duration

	Logger interface {
		Debugf(string, ...any)
	}
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
}

// HTML navigates to pageURL and returns the rendered document.
func HTML(ctx context.Context, pageURL string, opts Options) (string, error) {
	opts.defaults()

	wsURL := opts.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return "", fmt.Errorf("render: launch: %w", err)
		}
		defer l.Kill()

		wsURL = u
	}
	opts.debugf("render: connecting to %s\n", wsURL)

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return "", fmt.Errorf("render: connect: %w", err)
	}

	p, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		return "", fmt.Errorf("render: create tab: %w", err)
	}

	// a remote browser is not ours to close, only the tab is
	if opts.RemoteURL != "" {
		defer func() { _ = p.Close() }()
	} else {
		defer func() { _ = b.Close() }()
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	p = p.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("render: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("render: wait load: %w", err)
	}

	if opts.Settle > 0 {
		opts.debugf("render: settling for %s\n", opts.Settle)
		select {
		case <-navCtx.Done():
			return "", navCtx.Err()
		case <-time.After(opts.Settle):
		}
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("render: read DOM: %w", err)
	}

	return html, nil
}

func (o *Options) debugf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Debugf(format, args...)
	}
}
