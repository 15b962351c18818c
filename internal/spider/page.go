package spider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"storeglide_bot/internal/metrics"
	"storeglide_bot/internal/model"
	"storeglide_bot/internal/supervisor"
)

// PageSource scrapes the first pages of the catalog site.
type PageSource struct {
	fetcher *Fetcher
	base    *url.URL
	pages   int
	log     *slog.Logger
}

// NewPageSource creates a PageSource reading pages 1..pages of catalogURL.
func NewPageSource(f *Fetcher, catalogURL string, pages int, log *slog.Logger) (*PageSource, error) {
	base, err := url.Parse(catalogURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	return &PageSource{fetcher: f, base: base, pages: pages, log: log}, nil
}

// Name implements Source.
func (p *PageSource) Name() string { return "catalog pages" }

// Items downloads all pages concurrently and returns the parsed items in
// page order. Pages that fail are logged and skipped; an error is returned
// only when no page could be read.
func (p *PageSource) Items(ctx context.Context) ([]model.Item, error) {
	results := make([][]model.Item, p.pages)

	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)
	var g errgroup.Group
	for i := range p.pages {
		page := i + 1
		g.Go(func() error {
			return supervisor.Catch("catalog page", func() {
				items, err := p.page(ctx, page)
				if err != nil {
					metrics.PagesFetched.WithLabelValues(metrics.ResultFailed).Inc()
					p.log.Warn("fetch catalog page", "page", page, "error", err)
					mu.Lock()
					failures++
					lastErr = err
					mu.Unlock()
					return
				}
				metrics.PagesFetched.WithLabelValues(metrics.ResultOK).Inc()
				results[i] = items
			})
		})
	}
	supervisor.Rethrow(g.Wait())

	if p.pages > 0 && failures == p.pages {
		return nil, fmt.Errorf("all %d catalog pages failed: %w", p.pages, lastErr)
	}

	var all []model.Item
	for _, items := range results {
		all = append(all, items...)
	}
	return all, nil
}

func (p *PageSource) page(ctx context.Context, page int) ([]model.Item, error) {
	u := *p.base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := p.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	items, err := ParsePage(bytes.NewReader(body), p.base)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		p.log.Warn("no apps found on catalog page", "page", page)
	}
	return items, nil
}

// ParsePage extracts catalog items from one listing page. Relative download
// links are resolved against base.
func ParsePage(r io.Reader, base *url.URL) ([]model.Item, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var items []model.Item
	doc.Find("li.app").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Find("span.name").First().Text())
		if name == "" {
			return
		}
		author := strings.TrimSpace(s.Find("span.author").First().Text())
		author = strings.TrimSpace(strings.TrimPrefix(author, "by "))

		link, _ := s.Find("a.download").First().Attr("href")
		link = strings.TrimSpace(link)
		if ref, err := url.Parse(link); err == nil && base != nil && link != "" {
			link = base.ResolveReference(ref).String()
		}

		items = append(items, model.Item{
			Name:      name,
			Author:    author,
			Countries: strings.TrimSpace(s.Find("span.countries").First().Text()),
			Link:      link,
		})
	})
	return items, nil
}
