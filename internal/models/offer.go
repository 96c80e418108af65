package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// LocaleContent is the extracted content of one offer page in one locale.
// Empty fields mean the field was not found on the page.
type LocaleContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

func (c LocaleContent) IsEmpty() bool {
	return c.Title == "" && c.Description == "" && c.Price == ""
}

// OfferRecord holds every requested locale of a single offer. Records are
// built once through NewOfferRecord and not modified afterwards.
type OfferRecord struct {
	OfferID string
	Link    string
	Locales []string
	Content map[string]LocaleContent
	Error   string
}

func NewOfferRecord(offerID, link string, locales []string, content map[string]LocaleContent, errMsg string) OfferRecord {
	order := make([]string, len(locales))
	copy(order, locales)

	byLocale := make(map[string]LocaleContent, len(order))
	for _, loc := range order {
		byLocale[loc] = content[loc]
	}

	return OfferRecord{
		OfferID: offerID,
		Link:    link,
		Locales: order,
		Content: byLocale,
		Error:   errMsg,
	}
}

// MarshalJSON writes {"link": ..., "<locale>": {...}, ..., "error": ...}
// with locale keys in requested order so artifacts diff cleanly between runs.
func (r OfferRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if err := writeField(&buf, "link", r.Link); err != nil {
		return nil, err
	}

	for _, loc := range r.Locales {
		buf.WriteByte(',')
		if err := writeField(&buf, loc, r.Content[loc]); err != nil {
			return nil, err
		}
	}

	if r.Error != "" {
		buf.WriteByte(',')
		if err := writeField(&buf, "error", r.Error); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// ScrapeResult is the outcome of one run. On failure Error is set and
// Records is empty; AvailableCategories is filled whenever the listing was
// read, so an empty filter match can be corrected by the caller.
type ScrapeResult struct {
	RunID               string        `json:"run_id"`
	Success             bool          `json:"success"`
	State               string        `json:"state"`
	ListingURL          string        `json:"listing_url"`
	Filter              string        `json:"filter,omitempty"`
	Records             []OfferRecord `json:"-"`
	FilePath            string        `json:"file_path,omitempty"`
	LatestPath          string        `json:"latest_path,omitempty"`
	Count               int           `json:"count"`
	FailedOffers        int           `json:"failed_offers"`
	AvailableCategories []string      `json:"available_categories,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          time.Time     `json:"finished_at"`
	Error               *Error        `json:"error,omitempty"`
}

type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	URL     string    `json:"url,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Listing is what a seller page yields: offer ids in page order and the
// name of every category block seen, matched or not.
type Listing struct {
	URL                 string   `json:"url"`
	OfferIDs            []string `json:"offer_ids"`
	AvailableCategories []string `json:"available_categories"`
}
