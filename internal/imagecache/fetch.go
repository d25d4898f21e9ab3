package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 5 * time.Second
	totalTimeout   = 15 * time.Second

	userAgent = "anipush/1.0 (Go)"
)

var errNoWinner = errors.New("no candidate download succeeded")

// target is one concrete URL to try, with its source-specific transport
// selection.
type target struct {
	url      string
	embyAuth string // X-Emby-Token value; empty for external URLs
	useProxy bool
}

// fetcher downloads image bytes. Emby-backed targets go through the
// configured proxy; external URLs connect directly.
type fetcher struct {
	direct  *http.Client
	proxied *http.Client
	log     *slog.Logger
}

func newFetcher(proxy string, log *slog.Logger) *fetcher {
	f := &fetcher{
		direct: &http.Client{Transport: newTransport(nil), Timeout: totalTimeout},
		log:    log,
	}
	f.proxied = f.direct
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil {
			f.proxied = &http.Client{Transport: newTransport(u), Timeout: totalTimeout}
		} else {
			log.Warn("invalid proxy url, emby fetches go direct", "proxy", proxy, "error", err)
		}
	}
	return f
}

func newTransport(proxy *url.URL) *http.Transport {
	t := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: readTimeout,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

type fetchResult struct {
	data []byte
	err  error
}

// race fetches all targets concurrently and returns the first success,
// cancelling every other in-flight download. When all fail it returns
// errNoWinner wrapping nothing; individual failures are logged.
func (f *fetcher) race(ctx context.Context, targets []target) ([]byte, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, len(targets))
	for _, t := range targets {
		go func(t target) {
			data, err := f.fetch(raceCtx, t)
			results <- fetchResult{data: data, err: err}
		}(t)
	}

	failures := 0
	for range targets {
		res := <-results
		if res.err == nil {
			// Winner: cancel the losers via raceCtx.
			return res.data, nil
		}
		failures++
		if raceCtx.Err() == nil {
			f.log.Debug("image download failed", "error", res.err)
		}
	}
	f.log.Warn("image downloads exhausted", "failures", failures)
	return nil, errNoWinner
}

func (f *fetcher) fetch(ctx context.Context, t target) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	client := f.direct
	if t.embyAuth != "" {
		req.Header.Set("X-Emby-Token", t.embyAuth)
	}
	if t.useProxy {
		client = f.proxied
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", t.url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", t.url)
	}
	return data, nil
}
