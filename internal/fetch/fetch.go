// Package fetch downloads a list of URLs concurrently, reporting each transfer
// as a line of a multibar display.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sigman78/multibar"
)

// Line templates for a single transfer.
const (
	SizedTemplate   = "{msg} {bar} {bytes}/{total_bytes} {bytes_per_sec} {eta}"
	UnsizedTemplate = "{spinner} {msg} {bytes} {bytes_per_sec}"
	OverallTemplate = "{msg} {bar} {pos}/{len} {elapsed}"
)

// Config holds the runtime configuration of a fetch run.
type Config struct {
	URLs         []string
	Directory    string
	Threads      int
	StopOnError  bool
	RatePerMin   int           // requests per minute, 0 for no limit
	MaxRetries   int           // retries on 429 and 5xx
	RetryBackoff time.Duration // first retry delay, doubled per attempt (default 5s)
	PrettyPath   bool
	Storage      Storage      // if nil, NewLocalStorage(Directory) is used
	Client       *http.Client // if nil, a client with a 120s timeout is used
	Logger       *zap.Logger
}

// Summary counts the outcome of a run.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      uint64
}

var defaultClient = &http.Client{
	Timeout: 120 * time.Second,
}

type run struct {
	cfg    *Config
	c      *multibar.Coordinator
	store  Storage
	client *http.Client
	lim    *rate.Limiter
	log    *zap.Logger

	downloaded atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	bytes      atomic.Uint64
}

// DownloadAll fetches every URL of cfg, at most cfg.Threads at a time.
// Unless StopOnError is set, failures are logged and counted and the run
// goes on; otherwise the first failure cancels the rest and is returned.
func DownloadAll(ctx context.Context, cfg *Config, c *multibar.Coordinator) (Summary, error) {
	r := &run{
		cfg:    cfg,
		c:      c,
		store:  cfg.Storage,
		client: cfg.Client,
		log:    cfg.Logger,
	}
	if r.store == nil {
		r.store = NewLocalStorage(cfg.Directory)
	}
	if r.client == nil {
		r.client = defaultClient
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.lim = rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMin > 0 {
		r.lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 5)
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}

	overall, err := c.NewBar(uint64(len(cfg.URLs)),
		multibar.WithMessage("files"),
		multibar.WithTemplate(OverallTemplate))
	if err != nil {
		return Summary{}, err
	}

	pool, err := ants.NewPool(threads)
	if err != nil {
		return Summary{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	g, ctx := errgroup.WithContext(ctx)
	for _, raw := range cfg.URLs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errCh := make(chan error, 1)
			if err := pool.Submit(func() {
				errCh <- r.downloadOne(ctx, raw)
			}); err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			err := <-errCh
			_ = overall.Advance(1)
			if err != nil {
				r.failed.Add(1)
				if cfg.StopOnError {
					return err
				}
				r.log.Warn("download failed", zap.String("url", raw), zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		_ = overall.Detach()
	} else {
		_ = overall.Finish()
	}
	return r.summary(), err
}

func (r *run) summary() Summary {
	return Summary{
		Downloaded: int(r.downloaded.Load()),
		Skipped:    int(r.skipped.Load()),
		Failed:     int(r.failed.Load()),
		Bytes:      r.bytes.Load(),
	}
}

// downloadOne fetches a single URL into storage.
func (r *run) downloadOne(ctx context.Context, rawURL string) error {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("url %q: %w", rawURL, err)
	}
	logicalPath := LocalPath(target, r.cfg.PrettyPath)

	if r.store.Exists(logicalPath) {
		r.log.Debug("already present", zap.String("path", logicalPath))
		r.skipped.Add(1)
		return nil
	}

	resp, err := r.get(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	name := path.Base(logicalPath)
	var tr *multibar.Tracker
	if resp.ContentLength >= 0 {
		tr, err = r.c.NewBar(uint64(resp.ContentLength),
			multibar.WithMessage(name),
			multibar.WithTemplate(SizedTemplate))
	} else {
		tr, err = r.c.NewSpinner(
			multibar.WithMessage(name),
			multibar.WithTemplate(UnsizedTemplate))
	}
	if err != nil && !errors.Is(err, multibar.ErrClosed) {
		return err
	}

	var progress io.Writer
	if tr != nil {
		progress = tr
	}
	n, err := r.store.Save(logicalPath, resp.Body, progress)
	if err != nil {
		_ = tr.Detach()
		return fmt.Errorf("store %s: %w", logicalPath, err)
	}
	_ = tr.Finish()

	r.downloaded.Add(1)
	r.bytes.Add(uint64(n))
	r.log.Debug("saved", zap.String("url", target), zap.String("path", logicalPath))
	return nil
}

// get issues the request, retrying on 429 and 5xx up to MaxRetries times.
func (r *run) get(ctx context.Context, target string) (*http.Response, error) {
	maxRetries := max(r.cfg.MaxRetries, 0)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := r.lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		r.log.Debug("GET", zap.String("url", target), zap.Int("attempt", attempt))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http get: %w", err)
		}

		status := resp.StatusCode
		if status == http.StatusOK {
			return resp, nil
		}
		if !retriable(status) {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d for %s", status, target)
		}
		if attempt == maxRetries {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d after %d retries for %s", status, maxRetries, target)
		}

		delay := retryDelay(attempt, resp, r.cfg.RetryBackoff)
		_ = resp.Body.Close()
		r.log.Info("retrying", zap.String("url", target), zap.Int("status", status), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("exhausted retries for %s", target)
}

func retriable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// retryDelay returns how long to wait before the next attempt.
// It honours the Retry-After header when present, otherwise uses
// exponential backoff from base capped at 60 s.
func retryDelay(attempt int, resp *http.Response, base time.Duration) time.Duration {
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, 120*time.Second)
			}
		}
	}
	if base <= 0 {
		base = 5 * time.Second
	}
	d := base << uint(min(attempt, 16))
	if d <= 0 || d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}
