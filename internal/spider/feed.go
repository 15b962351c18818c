package spider

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"storeglide_bot/internal/model"
)

// FeedSource reads catalog releases from an RSS or Atom feed. The entry
// title is the item name and its categories are the countries.
type FeedSource struct {
	fetcher *Fetcher
	url     string
}

// NewFeedSource creates a FeedSource for feedURL.
func NewFeedSource(f *Fetcher, feedURL string) *FeedSource {
	return &FeedSource{fetcher: f, url: feedURL}
}

// Name implements Source.
func (s *FeedSource) Name() string { return "catalog feed" }

// Items downloads and parses the feed.
func (s *FeedSource) Items(ctx context.Context) ([]model.Item, error) {
	body, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, model.Item{
			Name:      strings.TrimSpace(it.Title),
			Author:    feedAuthor(it),
			Countries: strings.Join(it.Categories, ", "),
			Link:      it.Link,
		})
	}
	return items, nil
}

func feedAuthor(it *gofeed.Item) string {
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		return strings.TrimSpace(it.Authors[0].Name)
	}
	if it.Author != nil {
		return strings.TrimSpace(it.Author.Name)
	}
	return ""
}
