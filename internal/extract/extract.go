package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/models"
)

var (
	priceLine  = regexp.MustCompile(`(?i)^(от|from)[\s\p{Z}]+[\d.,]+[\s\p{Z}]*[₽€$]`)
	priceToken = regexp.MustCompile(`[\d.,]+[\s\p{Z}]*[₽€$]`)
	whitespace = regexp.MustCompile(`[\s\p{Z}\x{FEFF}]+`)
)

// Extractor reads offer fields from a rendered offer page. Fields are found
// only by their label text, so the phrases cover every supported locale.
type Extractor struct {
	titlePhrases       []string
	descriptionPhrases []string
}

func New(table *locale.Table) *Extractor {
	return &Extractor{
		titlePhrases:       table.TitlePhrases(),
		descriptionPhrases: table.DescriptionPhrases(),
	}
}

// Extract never fails: fields that cannot be found stay empty.
func (e *Extractor) Extract(html string) models.LocaleContent {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.LocaleContent{}
	}
	return e.ExtractDocument(doc)
}

func (e *Extractor) ExtractDocument(doc *goquery.Document) models.LocaleContent {
	var content models.LocaleContent

	doc.Find(".param-item").Each(func(_ int, item *goquery.Selection) {
		h5 := item.Find("h5").First()
		div := item.Find("div").First()
		if h5.Length() == 0 || div.Length() == 0 {
			return
		}

		label := strings.ToLower(strings.TrimSpace(h5.Text()))
		value := strings.TrimSpace(div.Text())

		switch {
		case containsAny(label, e.titlePhrases):
			if content.Title == "" {
				content.Title = value
			}
		case containsAny(label, e.descriptionPhrases):
			content.Description = value
		}
	})

	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if priceLine.MatchString(text) {
			content.Price = text
			return false
		}
		return true
	})

	content.Description = CollapseWhitespace(content.Description)
	content.Price = NormalizePrice(content.Price)
	return content
}

// CollapseWhitespace turns every whitespace run into one space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// NormalizePrice keeps only the amount and currency symbol. Input without
// a recognizable amount is returned unchanged.
func NormalizePrice(raw string) string {
	if raw == "" {
		return ""
	}
	if token := priceToken.FindString(raw); token != "" {
		return token
	}
	return raw
}

func containsAny(label string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(label, p) {
			return true
		}
	}
	return false
}
