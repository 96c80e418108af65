package listing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/offer-scraper/internal/browser"
	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/models"
)

var offerIDPattern = regexp.MustCompile(`id=(\d+)`)

// Opener navigates a tab and waits for the page to settle.
type Opener interface {
	Open(ctx context.Context, tab browser.Tab, target string, timeout time.Duration) error
}

type Collector struct {
	table   *locale.Table
	opener  Opener
	timeout time.Duration
	logger  *slog.Logger
}

func NewCollector(table *locale.Table, opener Opener, timeout time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		table:   table,
		opener:  opener,
		timeout: timeout,
		logger:  logger.With("component", "listing"),
	}
}

// CollectOfferIDs loads the default-locale variant of listingURL, since
// offer ids do not depend on the locale, and parses its offer blocks. An
// empty id list is a valid result.
func (c *Collector) CollectOfferIDs(ctx context.Context, tab browser.Tab, listingURL, filter string) (*models.Listing, error) {
	target, err := c.table.Localize(listingURL, c.table.DefaultCode)
	if err != nil {
		return nil, err
	}

	c.logger.Info("loading listing", "url", target, "filter", filter)
	if err := c.opener.Open(ctx, tab, target, c.timeout); err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", target, err)
	}

	html, err := tab.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read listing %s: %w", target, err)
	}

	listing, err := ParseListing(html, filter)
	if err != nil {
		return nil, err
	}
	listing.URL = target

	c.logger.Info("listing parsed",
		"offers", len(listing.OfferIDs),
		"categories", len(listing.AvailableCategories))
	return listing, nil
}

// ParseListing groups offers by their .offer block. filter is a
// case-insensitive substring of the category name; empty matches all.
func ParseListing(html, filter string) (*models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing html: %w", err)
	}

	filter = strings.ToLower(strings.TrimSpace(filter))
	listing := &models.Listing{
		OfferIDs:            []string{},
		AvailableCategories: []string{},
	}
	seen := make(map[string]bool)

	doc.Find(".offer").Each(func(_ int, block *goquery.Selection) {
		title := block.Find(".offer-list-title h3 a").First()
		if title.Length() == 0 {
			return
		}

		category := strings.TrimSpace(title.Text())
		listing.AvailableCategories = append(listing.AvailableCategories, category)

		if filter != "" && !strings.Contains(strings.ToLower(category), filter) {
			return
		}

		block.Find(".tc-item").Each(func(_ int, item *goquery.Selection) {
			href, _ := item.Attr("href")
			match := offerIDPattern.FindStringSubmatch(href)
			if match == nil || seen[match[1]] {
				return
			}
			seen[match[1]] = true
			listing.OfferIDs = append(listing.OfferIDs, match[1])
		})
	})

	return listing, nil
}

// OfferURL is the canonical, default-locale link of an offer.
func OfferURL(baseURL, offerID string) string {
	return strings.TrimRight(baseURL, "/") + "/lots/offer?id=" + offerID
}
