package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sigman78/multibar"
	"github.com/sigman78/multibar/internal/fetch"
	"github.com/sigman78/multibar/internal/termcap"
	"github.com/sigman78/multibar/logsink"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: multibar-get [options] url [url ...]

Arguments:
  url                     URL to download (scheme defaults to https://)

Options:
  -directory string       Output directory (default: downloads)
  -threads int            Concurrent downloads (default: 4)
  -rate int               Requests per minute, 0 for no limit (default: 0)
  -retries int            Max retries on throttle or 5xx (default: 3)
  -pretty-path            Map extension-less URLs to dir/index.html
  -stop-on-error          Stop immediately on first download error (default: continue)
  -interval duration      Minimum time between terminal redraws (default: 100ms)
  -heartbeat duration     Progress line period when not on a terminal, 0 to disable (default: 5s)
  -force-ansi             Always redraw in place, even when not on a terminal
  -no-ansi                Never redraw in place
  -ticker                 Redraw on a timer so spinners keep moving
  -quiet                  Do not display progress or logs
  -stdout                 Display progress on stdout instead of stderr
  -log-level string       debug|info|warn|error (default: info)
  -version                Print version and exit
  -h / -help              Show this help and exit
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command and returns the process exit code.
func run(args []string, stderr io.Writer) int {
	// Use ContinueOnError so we can intercept ErrHelp and unknown-flag errors
	// and control the exit code ourselves.
	fs := flag.NewFlagSet("multibar-get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage

	var (
		dirFlag     string
		threadsFlag int
		rateFlag    int
		retriesFlag int
		prettyPath  bool
		stopOnError bool
		interval    time.Duration
		heartbeat   time.Duration
		forceANSI   bool
		noANSI      bool
		useTicker   bool
		quiet       bool
		toStdout    bool
		logLevel    string
	)

	fs.StringVar(&dirFlag, "directory", "downloads", "Output directory")
	fs.IntVar(&threadsFlag, "threads", 4, "Concurrent downloads")
	fs.IntVar(&rateFlag, "rate", 0, "Requests per minute, 0 for no limit")
	fs.IntVar(&retriesFlag, "retries", 3, "Max retries on throttle or 5xx")
	fs.BoolVar(&prettyPath, "pretty-path", false, "Map extension-less URLs to dir/index.html")
	fs.BoolVar(&stopOnError, "stop-on-error", false, "Stop immediately on first download error")
	fs.DurationVar(&interval, "interval", multibar.DefaultInterval, "Minimum time between terminal redraws")
	fs.DurationVar(&heartbeat, "heartbeat", multibar.DefaultHeartbeat, "Progress line period when not on a terminal")
	fs.BoolVar(&forceANSI, "force-ansi", false, "Always redraw in place")
	fs.BoolVar(&noANSI, "no-ansi", false, "Never redraw in place")
	fs.BoolVar(&useTicker, "ticker", false, "Redraw on a timer")
	fs.BoolVar(&quiet, "quiet", false, "Do not display progress or logs")
	fs.BoolVar(&toStdout, "stdout", false, "Display progress on stdout")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	// Handle -version / -h / -help before the flag parser so we control the exit code.
	for _, a := range args {
		if a == "-version" || a == "--version" {
			fmt.Printf("multibar-get %s (commit %s, built %s)\n", version, commit, date)
			return 0
		}
		if a == "-h" || a == "-help" || a == "--help" {
			usage()
			return 0
		}
	}

	// Leading positional URLs are accepted before the flags too; the stdlib
	// flag package stops at the first non-flag argument.
	var urls []string
	for len(args) > 0 && args[0] != "" && !strings.HasPrefix(args[0], "-") {
		urls = append(urls, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		// Unknown/malformed flag: fs already printed the error message
		return 2
	}
	urls = append(urls, fs.Args()...)

	// Validation: check flags before checking URLs so flag errors surface clearly
	if threadsFlag <= 0 {
		fmt.Fprintln(stderr, "error: -threads must be greater than 0")
		return 1
	}
	if forceANSI && noANSI {
		fmt.Fprintln(stderr, "error: -force-ansi and -no-ansi are mutually exclusive")
		return 1
	}
	if interval < 0 || heartbeat < 0 {
		fmt.Fprintln(stderr, "error: -interval and -heartbeat must not be negative")
		return 1
	}
	if len(urls) == 0 {
		fmt.Fprintln(stderr, "error: at least one URL is required")
		usage()
		return 1
	}
	for _, u := range urls {
		if _, err := fetch.NormalizeURL(u); err != nil {
			fmt.Fprintf(stderr, "error: invalid URL %q: %v\n", u, err)
			return 1
		}
	}

	target := multibar.Stderr()
	switch {
	case quiet:
		target = multibar.Hidden()
	case toStdout:
		target = multibar.Stdout()
	}
	opts := []multibar.Option{
		multibar.WithInterval(interval),
		multibar.WithHeartbeat(heartbeat),
	}
	if forceANSI || noANSI {
		opts = append(opts, multibar.WithForceANSI(forceANSI))
	}
	c := multibar.NewWithTarget(target, opts...)

	logger, err := logsink.NewLogger(c, logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		for range termcap.NotifyResize(ctx) {
			c.RefreshCapability()
		}
	}()
	if useTicker {
		c.StartTicker()
	}

	cfg := &fetch.Config{
		URLs:        urls,
		Directory:   dirFlag,
		Threads:     threadsFlag,
		StopOnError: stopOnError,
		RatePerMin:  rateFlag,
		MaxRetries:  retriesFlag,
		PrettyPath:  prettyPath,
		Logger:      logger,
	}
	logger.Debug("starting", zap.Int("urls", len(urls)), zap.String("directory", dirFlag))

	sum, err := fetch.DownloadAll(ctx, cfg, c)
	if cerr := c.Close(); cerr != nil {
		fmt.Fprintf(stderr, "warning: progress display disabled: %v\n", cerr)
	}
	if !quiet {
		fmt.Fprintf(stderr, "%d downloaded, %d skipped, %d failed, %s\n",
			sum.Downloaded, sum.Skipped, sum.Failed, humanize.IBytes(sum.Bytes))
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
