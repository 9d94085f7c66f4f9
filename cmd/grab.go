package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brogergvhs/wxstrip/internal/config"
	"github.com/brogergvhs/wxstrip/internal/downloader"
	"github.com/brogergvhs/wxstrip/internal/export"
	"github.com/brogergvhs/wxstrip/internal/grab"
	"github.com/brogergvhs/wxstrip/internal/page"
	"github.com/brogergvhs/wxstrip/internal/render"
	"github.com/brogergvhs/wxstrip/internal/ui"
	"github.com/brogergvhs/wxstrip/internal/util"

	"github.com/spf13/cobra"
)

var (
	// source
	flagURL  string
	flagFile string
	flagBase string

	// runtime
	flagOutput    string
	flagMode      string
	flagBatchSize int
	flagProgress  bool
	flagWait      bool
	flagDryRun    bool

	// rendering
	flagRender       bool
	flagRenderSettle string
	flagChromeURL    string

	// headers/auth
	flagCookie     string
	flagCookieFile string
	flagUserAgent  string
	flagCFBypass   bool
)

func init() {
	grabCmd := &cobra.Command{
		Use:   "grab",
		Short: "Export the UTC-stamped charts of a page as PNG strips. Uses the defaults from the selected config, overwritten by CLI flags",
		RunE:  runGrab,
	}

	// source
	grabCmd.Flags().StringVar(&flagURL, "url", "", "page URL carrying the chart images")
	grabCmd.Flags().StringVar(&flagFile, "file", "", "saved HTML page to read instead of --url")
	grabCmd.Flags().StringVar(&flagBase, "base", "", "base URL for relative image sources in --file")

	// runtime
	grabCmd.Flags().StringVar(&flagOutput, "output", "", "output folder for PNG files")
	grabCmd.Flags().StringVar(&flagMode, "mode", "", "batch (strips of --batch-size charts) or single (one file per chart)")
	grabCmd.Flags().IntVar(&flagBatchSize, "batch-size", 10, "charts per strip in batch mode")
	grabCmd.Flags().BoolVar(&flagProgress, "progress", true, "show a progress bar per batch")
	grabCmd.Flags().BoolVar(&flagWait, "wait", false, "wait for Enter after the completion notice")
	grabCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "composite and name files, don't write them")

	// rendering
	grabCmd.Flags().BoolVar(&flagRender, "render", false, "render the page in headless Chrome before discovery")
	grabCmd.Flags().StringVar(&flagRenderSettle, "render-settle", "", "extra wait after page load when rendering (e.g. 2s)")
	grabCmd.Flags().StringVar(&flagChromeURL, "chrome-url", "", "DevTools WebSocket URL of a running Chrome")

	// headers/auth
	grabCmd.Flags().StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	grabCmd.Flags().StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	grabCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")
	grabCmd.Flags().BoolVar(&flagCFBypass, "cf-bypass", false, "use a Cloudflare-friendly HTTP transport")

	rootCmd.AddCommand(grabCmd)
}

func runGrab(cmd *cobra.Command, _ []string) error {
	cfg, usedPath, err := config.LoadMerged(config.DefaultStore(), config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
		Output:       flagOutput,
		Mode:         flagMode,
		Wait:         flagWait,
		DefaultURL:   flagURL,
		Render:       flagRender,
		RenderSettle: flagRenderSettle,
		ChromeURL:    flagChromeURL,
		CFBypass:     flagCFBypass,
		Cookie:       flagCookie,
		CookieFile:   flagCookieFile,
		UserAgent:    flagUserAgent,
	})
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = flagBatchSize
	}
	if cmd.Flags().Changed("progress") {
		cfg.Progress = flagProgress
	}

	mode, err := grab.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	logSvc := ui.NewLogger(cfg.Debug)
	if usedPath != "" {
		fmt.Printf("Config file: %s\n", usedPath)
	}

	fmt.Println("Full config:")
	cfg.Print()
	fmt.Println()

	if flagFile == "" && cfg.DefaultURL == "" {
		return fmt.Errorf("missing --url (or --file) and no default_url in config")
	}

	if !flagDryRun {
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return fmt.Errorf("cannot create output folder: %w", err)
		}
		util.SetupInterruptHandler(cfg.Output)
	}

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:     30 * time.Second,
		UserAgent:   util.PickUserAgent(cfg.UserAgent),
		Cookie:      cfg.Cookie,
		CookieFile:  cfg.CookieFile,
		CFBypass:    cfg.CFBypass,
		DebugLogger: logSvc,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	doc, err := loadSource(ctx, cfg, client, logSvc)
	if err != nil {
		return err
	}

	disk := export.NewDisk(cfg.Output)
	mem := export.NewMemory()
	var exporter export.Exporter = disk
	if flagDryRun {
		exporter = mem
	}

	settings := grab.SettingsFor(mode)
	if mode == grab.ModeBatch {
		settings.BatchSize = cfg.BatchSize
	}

	fetcher := downloader.New(client, referer(doc.Base()))
	stats := &ui.Stats{}
	runner := &grab.Runner{
		Loader:   fetcher,
		Exporter: exporter,
		Log:      logSvc,
		Settings: settings,
		Stats:    stats,
		OnComplete: func() {
			if cfg.Wait {
				ui.Notify(os.Stdout, os.Stdin)
				return
			}
			ui.Notify(os.Stdout, nil)
		},
	}

	var pm *ui.MPBProgressManager
	if cfg.Progress && mode == grab.ModeBatch {
		pm = ui.NewProgressManager(os.Stdout)
		runner.Bars = pm
	}

	start := time.Now()
	out, runErr := runner.Run(ctx, doc)
	if pm != nil {
		pm.Close()
	}

	fmt.Println()
	fmt.Println("Grab Summary:")
	fmt.Printf("State:   %s\n", out.State)
	fmt.Printf("Images:  %d found, %d drawn, %d failed\n", out.Images, stats.TotalImages.Load(), stats.FailedImages.Load())
	fmt.Printf("Files:   %d\n", stats.TotalFiles.Load())
	fmt.Printf("Fetched: %d requests, %s\n", fetcher.Fetched(), util.Human(fetcher.Bytes()))
	fmt.Printf("Written: %s\n", util.Human(stats.TotalBytes.Load()))
	fmt.Printf("Time:    %s\n", time.Since(start).Round(time.Second))

	switch {
	case flagDryRun && len(out.Files) > 0:
		fmt.Printf("Dry-run, would write to %s:\n  %s\n", cfg.Output, strings.Join(mem.Sorted(), "\n  "))
	case len(out.Files) > 0:
		fmt.Println("Output:")
		for _, name := range out.Files {
			fmt.Printf("  %s\n", disk.Path(name))
		}
	}

	return runErr
}

// referer returns base when it is a web page. Saved files have no
// meaningful referer to send.
func referer(base string) string {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return base
}

func loadSource(ctx context.Context, cfg *config.Config, client *http.Client, log *ui.Logger) (*page.Document, error) {
	if flagFile != "" {
		log.Infof("Reading page from %s\n", flagFile)
		return page.Open(flagFile, flagBase)
	}

	if cfg.Render {
		log.Infof("Rendering %s in headless Chrome\n", cfg.DefaultURL)
		html, err := render.HTML(ctx, cfg.DefaultURL, render.Options{
			RemoteURL: cfg.ChromeURL,
			Settle:    cfg.Settle(),
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		return page.Parse(strings.NewReader(html), cfg.DefaultURL)
	}

	log.Infof("Fetching %s\n", cfg.DefaultURL)
	return page.Load(ctx, client, cfg.DefaultURL)
}
