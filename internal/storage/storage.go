package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/offer-scraper/internal/models"
)

var unsafeFileChars = regexp.MustCompile(`(?i)[^a-z0-9а-яё\-_]`)

// ErrLatestCopy is returned alongside a valid artifact path when only the
// latest copy could not be refreshed.
var ErrLatestCopy = errors.New("failed to refresh latest copy")

// ResultWriter persists a finished run as one pretty-printed JSON array.
type ResultWriter struct {
	mu          sync.Mutex
	dir         string
	writeLatest bool
	latestName  string
	now         func() time.Time
}

func NewResultWriter(dir string, writeLatest bool, latestName string) *ResultWriter {
	if latestName == "" {
		latestName = "latest.json"
	}
	return &ResultWriter{
		dir:         dir,
		writeLatest: writeLatest,
		latestName:  latestName,
		now:         time.Now,
	}
}

// Save writes records to Parser_<category>_<date>.json, replacing a file of
// the same name, and refreshes the latest copy when enabled. It returns the
// artifact path and the latest path (empty when disabled or not written).
func (w *ResultWriter) Save(records []models.OfferRecord, filter string) (string, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if records == nil {
		records = []models.OfferRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode results: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create results dir: %w", err)
	}

	path := filepath.Join(w.dir, FileName(filter, w.now()))
	if err := writeAtomic(path, data); err != nil {
		return "", "", err
	}

	if !w.writeLatest {
		return path, "", nil
	}

	latest := filepath.Join(w.dir, w.latestName)
	if err := writeAtomic(latest, data); err != nil {
		return path, "", fmt.Errorf("%w: %v", ErrLatestCopy, err)
	}
	return path, latest, nil
}

// Read returns a previously written artifact. Only files inside the results
// directory can be read.
func (w *ResultWriter) Read(path string) ([]byte, error) {
	dir, err := filepath.Abs(w.dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if rel, err := filepath.Rel(dir, abs); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("path %s is outside the results directory", path)
	}
	return os.ReadFile(abs)
}

// FileName builds the artifact name for a run on day. The date is the UTC
// calendar day.
func FileName(filter string, day time.Time) string {
	return fmt.Sprintf("Parser_%s_%s.json", SanitizeCategory(filter), day.UTC().Format("2006-01-02"))
}

// SanitizeCategory makes a category filter safe for file names, keeping its
// case; an empty filter becomes "all".
func SanitizeCategory(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "all"
	}
	return unsafeFileChars.ReplaceAllString(filter, "_")
}

func writeAtomic(path string, data []byte) error {
	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
