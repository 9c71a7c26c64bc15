package sources

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const maxPageBytes = 2 << 20

// FetchRecorder receives the outcome of every fetch, keyed by domain.
type FetchRecorder interface {
	RecordSourceFetch(ctx context.Context, domain string, success bool, at string) error
}

type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	FetchedAt string `json:"fetched_at"`
}

type Fetcher struct {
	limitedClient
	recorder FetchRecorder
	now      func() time.Time
}

func NewFetcher(rps float64, recorder FetchRecorder, opts ...Option) *Fetcher {
	return &Fetcher{
		limitedClient: newLimitedClient("", rps, opts...),
		recorder:      recorder,
		now:           time.Now,
	}
}

// Fetch downloads rawURL and returns its title and readable text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	target, err := validateURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	key := "page:" + target
	var page Page
	if f.loadCached(ctx, key, &page) {
		return page, nil
	}
	page, err = f.fetch(ctx, target)
	if err != nil {
		// A fetch cut short by the run says nothing about the source.
		if ctx.Err() == nil {
			f.record(ctx, target, false)
		}
		return Page{}, err
	}
	f.record(ctx, target, true)
	f.storeCached(ctx, key, page)
	return page, nil
}

func (f *Fetcher) fetch(ctx context.Context, target string) (Page, error) {
	resp, err := f.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
		req.Header.Set("Accept-Language", "ru,en;q=0.8")
		return req, nil
	})
	if err != nil {
		return Page{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return Page{}, fmt.Errorf("fetch http %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	body, err := readBody(resp, maxPageBytes)
	if err != nil {
		return Page{}, fmt.Errorf("read page: %w", err)
	}

	page := Page{URL: target, FetchedAt: f.now().UTC().Format(time.RFC3339Nano)}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/plain" {
		page.Text = strings.TrimSpace(string(body))
		return page, nil
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return Page{}, fmt.Errorf("parse page: %w", err)
	}
	page.Title = findTitle(doc)
	page.Text = readableText(doc)
	if page.Text == "" {
		return Page{}, errors.New("page has no readable text")
	}
	return page, nil
}

func (f *Fetcher) record(ctx context.Context, target string, success bool) {
	if f.recorder == nil {
		return
	}
	domain := Domain(target)
	if domain == "" {
		return
	}
	at := f.now().UTC().Format(time.RFC3339Nano)
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.recorder.RecordSourceFetch(recordCtx, domain, success, at); err != nil {
		log.Warn().Err(err).Str("domain", domain).Msg("source_stats_record_failed")
	}
}

func validateURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errors.New("url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("url has no host")
	}
	parsed.Fragment = ""
	return parsed.String(), nil
}
