package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/offer-scraper/internal/locale"
)

func newExtractor() *Extractor {
	return New(locale.MustDefault())
}

func TestExtractRussianOffer(t *testing.T) {
	html := `<html><body>
		<div class="param-item"><h5>Краткое описание</h5><div>  Аккаунт Dota 2  </div></div>
		<div class="param-item"><h5>Подробное описание</h5><div>Аккаунт
			с    предметами</div></div>
		<div class="tc-price"><span>от 1,500.00₽ за штуку</span></div>
	</body></html>`

	got := newExtractor().Extract(html)

	assert.Equal(t, "Аккаунт Dota 2", got.Title)
	assert.Equal(t, "Аккаунт с предметами", got.Description)
	assert.Equal(t, "1,500.00₽", got.Price)
}

func TestExtractEnglishOffer(t *testing.T) {
	html := `<html><body>
		<div class="param-item"><h5>Range</h5><div>Level 30-50</div></div>
		<div class="param-item"><h5>Short description</h5><div>Ignored, title already set</div></div>
		<div class="param-item"><h5>Detailed description</h5><div>first</div></div>
		<div class="param-item"><h5>Full description</h5><div>second wins</div></div>
		<p>from 12.5 $</p>
	</body></html>`

	got := newExtractor().Extract(html)

	assert.Equal(t, "Level 30-50", got.Title)
	assert.Equal(t, "second wins", got.Description)
	assert.Equal(t, "12.5 $", got.Price)
}

func TestExtractEmptyTitleDoesNotBlockLaterMatch(t *testing.T) {
	html := `<div class="param-item"><h5>Краткое описание</h5><div>   </div></div>
		<div class="param-item"><h5>Диапазон</h5><div>1-10</div></div>`

	assert.Equal(t, "1-10", newExtractor().Extract(html).Title)
}

func TestExtractMissingContent(t *testing.T) {
	html := `<html><body>
		<div class="param-item"><h5>Игра</h5><div>Dota 2</div></div>
		<div class="param-item"><div>no label</div></div>
		<div class="param-item"><h5>Подробное описание</h5></div>
		<span>Цена 100₽</span>
	</body></html>`

	got := newExtractor().Extract(html)

	assert.Empty(t, got.Title)
	assert.Empty(t, got.Description)
	assert.Empty(t, got.Price)
	assert.True(t, got.IsEmpty())
}

func TestExtractFirstPriceInDocumentOrder(t *testing.T) {
	html := `<html><body>
		<div><span>от 100 ₽</span></div>
		<div><span>от 200 ₽</span></div>
	</body></html>`

	assert.Equal(t, "100 ₽", newExtractor().Extract(html).Price)
}

func TestExtractGarbage(t *testing.T) {
	assert.True(t, newExtractor().Extract("").IsEmpty())
	assert.True(t, newExtractor().Extract("<<<>>>").IsEmpty())
}

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"  a  ", "a"},
		{"a\n\t b", "a b"},
		{"a  b", "a b"},
		{"already clean", "already clean"},
	}

	for _, tt := range tests {
		got := CollapseWhitespace(tt.input)
		assert.Equal(t, tt.expected, got)
		assert.Equal(t, got, CollapseWhitespace(got), "idempotent for %q", tt.input)
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"от 1,500.00₽ за штуку", "1,500.00₽"},
		{"from 3.20 €", "3.20 €"},
		{"ОТ 99$", "99$"},
		{"1,500.00₽", "1,500.00₽"},
		{"no digits", "no digits"},
		{"", ""},
	}

	for _, tt := range tests {
		got := NormalizePrice(tt.input)
		assert.Equal(t, tt.expected, got)
		assert.Equal(t, got, NormalizePrice(got), "idempotent for %q", tt.input)
	}
}
