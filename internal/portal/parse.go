package portal

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/scoutlab/pubscout/internal/model"
	"github.com/scoutlab/pubscout/internal/sanitize"
)

// dateLayouts covers the formats the portal has been seen to emit.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// parseListing extracts publication records from a listing document.
// Malformed entries are skipped and counted; they never fail the page.
func parseListing(doc *goquery.Document, baseURL string) ([]model.PublicationRecord, int) {
	container := doc.Find("div.publications-list").First()
	if container.Length() == 0 {
		return nil, 0
	}

	var records []model.PublicationRecord
	skipped := 0
	now := time.Now().UTC()

	container.Find("div.publication-item").Each(func(_ int, item *goquery.Selection) {
		rec, err := parseEntry(item, baseURL, now)
		if err != nil {
			skipped++
			return
		}
		records = append(records, rec)
	})

	return records, skipped
}

func parseEntry(item *goquery.Selection, baseURL string, scrapedAt time.Time) (model.PublicationRecord, error) {
	title := cleanText(item.Find("h3.title").First().Text())
	authors := parseAuthors(item.Find("div.authors").First().Text())

	// Title and authors are the minimum for a valid record.
	if title == "" || len(authors) == 0 {
		return model.PublicationRecord{}, eris.New("entry missing title or authors")
	}

	rec := model.PublicationRecord{
		Title:           title,
		Authors:         authors,
		Abstract:        cleanText(item.Find("div.abstract").First().Text()),
		Department:      cleanText(item.Find("div.department").First().Text()),
		PublicationType: cleanText(item.Find("span.type").First().Text()),
		DOI:             parseDOI(item),
		URL:             parseEntryURL(item, baseURL),
		PublishedDate:   parseDate(cleanText(item.Find("span.date").First().Text())),
		ScrapedAt:       scrapedAt,
	}
	rec.SourceID = sourceID(rec)
	rec.RawText = buildRawText(rec)
	return rec, nil
}

// initialsRe matches abbreviated given names ("E.", "J.-P.", "A. B.")
// so that "Lastname, Initial" pairs survive comma splitting.
var initialsRe = regexp.MustCompile(`^[A-Z]\.?(?:[\s\-][A-Z]\.?)*$`)

// parseAuthors splits the author line on the portal's separators.
// Semicolons separate authors unambiguously; with commas only, initial
// fragments are re-attached to the preceding surname.
func parseAuthors(text string) []string {
	text = cleanText(text)
	if text == "" {
		return nil
	}
	if strings.Contains(text, ";") {
		return trimParts(strings.Split(text, ";"))
	}
	return groupInitials(trimParts(strings.Split(text, ",")))
}

func trimParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// groupInitials turns "Weber, E., Klein, F." into two authors, not four.
// The grouped form also feeds the content-hash fallback of sourceID, so
// the dedup key stays stable for portals without DOIs or links.
func groupInitials(parts []string) []string {
	var authors []string
	for _, p := range parts {
		if len(authors) > 0 && initialsRe.MatchString(p) {
			authors[len(authors)-1] += ", " + p
			continue
		}
		authors = append(authors, p)
	}
	return authors
}

func parseDOI(item *goquery.Selection) string {
	text := cleanText(item.Find("span.doi").First().Text())
	text = strings.TrimPrefix(text, "DOI:")
	return strings.TrimSpace(text)
}

func parseEntryURL(item *goquery.Selection, baseURL string) string {
	href, ok := item.Find("a.publication-link").First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(originOf(baseURL), "/") + "/" + strings.TrimPrefix(href, "/")
}

// originOf reduces a URL to scheme://host for resolving relative hrefs.
func originOf(raw string) string {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return raw
	}
	rest := raw[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return raw[:idx+3+slash]
	}
	return raw
}

func parseDate(text string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// sourceID derives the stable dedup key: DOI when present, else the
// publication URL, else a content hash of title and first author.
func sourceID(rec model.PublicationRecord) string {
	if rec.DOI != "" {
		return rec.DOI
	}
	if rec.URL != "" {
		return rec.URL
	}
	h := sha256.Sum256([]byte(rec.Title + "|" + rec.Authors[0]))
	return hex.EncodeToString(h[:])
}

// rawScrubber strips contact details from RawText before the record
// leaves this package.
var rawScrubber = sanitize.NewDefault()

// buildRawText concatenates the fields submitted for scoring, with
// personal information already removed.
func buildRawText(rec model.PublicationRecord) string {
	parts := []string{rec.Title}
	if rec.Abstract != "" {
		parts = append(parts, rec.Abstract)
	}
	if rec.Department != "" {
		parts = append(parts, "Department: "+rec.Department)
	}
	if rec.PublicationType != "" {
		parts = append(parts, "Type: "+rec.PublicationType)
	}
	return rawScrubber.Scrub(strings.Join(parts, "\n\n"))
}

// cleanText NFC-normalizes and collapses whitespace in scraped text.
func cleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
