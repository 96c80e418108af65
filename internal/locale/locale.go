package locale

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed locales.yaml
var defaultTable []byte

var ErrUnknownLocale = errors.New("unknown locale")

type Fields struct {
	Title       []string `yaml:"title"`
	Description []string `yaml:"description"`
}

type Locale struct {
	Code           string `yaml:"code"`
	Prefix         string `yaml:"prefix"`
	AcceptLanguage string `yaml:"accept_language"`
	Fields         Fields `yaml:"fields"`
}

// Table maps locale codes to their URL prefix, negotiation header and the
// label phrases that identify offer fields.
type Table struct {
	DefaultCode string   `yaml:"default"`
	Locales     []Locale `yaml:"locales"`

	byCode map[string]Locale
}

// Load reads the table from path, or the embedded table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(defaultTable)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale table: %w", err)
	}
	return Parse(data)
}

// MustDefault returns the embedded table. It panics only if the embedded
// file is broken, which the package tests rule out.
func MustDefault() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(err)
	}
	return t
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse locale table: %w", err)
	}

	t.byCode = make(map[string]Locale, len(t.Locales))
	for i, loc := range t.Locales {
		loc.Code = strings.ToLower(strings.TrimSpace(loc.Code))
		loc.Prefix = strings.TrimRight(strings.TrimSpace(loc.Prefix), "/")
		if loc.Code == "" {
			return nil, fmt.Errorf("locale #%d has no code", i)
		}
		if _, dup := t.byCode[loc.Code]; dup {
			return nil, fmt.Errorf("duplicate locale %q", loc.Code)
		}
		if loc.Prefix != "" && !strings.HasPrefix(loc.Prefix, "/") {
			return nil, fmt.Errorf("locale %q: prefix must start with /", loc.Code)
		}
		loc.Fields.Title = lowerAll(loc.Fields.Title)
		loc.Fields.Description = lowerAll(loc.Fields.Description)
		t.Locales[i] = loc
		t.byCode[loc.Code] = loc
	}

	def, ok := t.byCode[t.DefaultCode]
	if !ok {
		return nil, fmt.Errorf("default locale %q is not defined", t.DefaultCode)
	}
	if def.Prefix != "" {
		return nil, fmt.Errorf("default locale %q must not have a prefix", def.Code)
	}
	for _, loc := range t.Locales {
		if loc.Code != def.Code && loc.Prefix == "" {
			return nil, fmt.Errorf("locale %q needs a prefix", loc.Code)
		}
	}

	return &t, nil
}

func (t *Table) Get(code string) (Locale, error) {
	loc, ok := t.byCode[strings.ToLower(code)]
	if !ok {
		return Locale{}, fmt.Errorf("%w: %s", ErrUnknownLocale, code)
	}
	return loc, nil
}

func (t *Table) Default() Locale {
	return t.byCode[t.DefaultCode]
}

func (l Locale) IsDefault() bool {
	return l.Prefix == ""
}

// Localize rewrites rawURL into the variant for code: any known prefix is
// stripped from the path and the requested one added. The path keeps its
// original escaping, so localizing to another locale and back returns the
// original URL.
func (t *Table) Localize(rawURL, code string) (string, error) {
	loc, err := t.Get(code)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	escaped := t.stripPrefix(u.EscapedPath())
	if loc.Prefix != "" {
		if escaped != "" && !strings.HasPrefix(escaped, "/") {
			escaped = "/" + escaped
		}
		escaped = loc.Prefix + escaped
	}

	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("invalid url path %q: %w", escaped, err)
	}
	u.Path = path
	u.RawPath = escaped
	return u.String(), nil
}

// Detect returns the locale a URL path belongs to.
func (t *Table) Detect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return t.DefaultCode
	}
	if loc, ok := t.prefixed(u.Path); ok {
		return loc.Code
	}
	return t.DefaultCode
}

// IsSwitchLink reports whether an anchor's raw href looks like the site's
// language switcher entry for code.
func (t *Table) IsSwitchLink(href, code string) bool {
	loc, err := t.Get(code)
	if err != nil || href == "" {
		return false
	}

	if !loc.IsDefault() {
		return href == loc.Prefix || strings.Contains(href, loc.Prefix+"/")
	}

	for _, other := range t.Locales {
		if other.Prefix != "" && strings.Contains(href, other.Prefix+"/") {
			return false
		}
	}
	return href == "/" || strings.Contains(href, "/"+loc.Code)
}

// TitlePhrases returns the title labels of every locale, in table order.
func (t *Table) TitlePhrases() []string {
	var out []string
	for _, loc := range t.Locales {
		out = appendUnique(out, loc.Fields.Title...)
	}
	return out
}

func (t *Table) DescriptionPhrases() []string {
	var out []string
	for _, loc := range t.Locales {
		out = appendUnique(out, loc.Fields.Description...)
	}
	return out
}

// stripPrefix removes a locale prefix from an escaped path. "/en" maps back
// to the empty path and "/en/" to "/".
func (t *Table) stripPrefix(path string) string {
	loc, ok := t.prefixed(path)
	if !ok {
		return path
	}
	return strings.TrimPrefix(path, loc.Prefix)
}

func (t *Table) prefixed(path string) (Locale, bool) {
	for _, loc := range t.Locales {
		if loc.Prefix == "" {
			continue
		}
		if path == loc.Prefix || strings.HasPrefix(path, loc.Prefix+"/") {
			return loc, true
		}
	}
	return Locale{}, false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, existing := range dst {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}
