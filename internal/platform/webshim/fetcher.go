package webshim

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

var (
	ErrNotHTML      = errors.New("framed resource is not an HTML document")
	ErrPageTooLarge = errors.New("framed page exceeds the size limit")
	ErrBadURL       = errors.New("framed url must be absolute http or https")
)

// Document is a fetched page.
type Document struct {
	URL         string // Final url after redirects
	Status      int
	ContentType string
	Charset     string // Charset the body was decoded from
	Title       string
	HTML        string // UTF-8
}

// FetcherConfig tunes a Fetcher.
type FetcherConfig struct {
	Timeout     time.Duration
	MaxPageSize int64
	UserAgent   string
}

// Fetcher retrieves pages to frame.
type Fetcher struct {
	client *resty.Client
	cfg    FetcherConfig
}

// NewFetcher creates a fetcher. A nil client gets a fresh resty client.
func NewFetcher(cfg FetcherConfig, client *resty.Client) *Fetcher {
	if client == nil {
		client = resty.New()
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; webbridge-shim/1.0)"
	}
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &Fetcher{client: client, cfg: cfg}
}

// Fetch downloads rawURL and checks it is a bounded HTML document. The
// body is decoded to UTF-8: the declared charset wins, otherwise the
// encoding is detected from the bytes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, rawURL)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
		Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s (url: %s)", status, resp.Status(), rawURL)
	}

	body := resp.Body()
	if f.cfg.MaxPageSize > 0 && int64(len(body)) > f.cfg.MaxPageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPageTooLarge, len(body))
	}

	contentType := strings.TrimSpace(resp.Header().Get("Content-Type"))
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return nil, fmt.Errorf("%w: %s", ErrNotHTML, contentType)
		}
	} else {
		sniffed := mimetype.Detect(body)
		if !sniffed.Is("text/html") {
			return nil, fmt.Errorf("%w: sniffed %s", ErrNotHTML, sniffed.String())
		}
		contentType = sniffed.String()
	}

	html, name := decode(body, contentType)

	final := u.String()
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}

	return &Document{
		URL:         final,
		Status:      status,
		ContentType: contentType,
		Charset:     name,
		Title:       documentTitle(html),
		HTML:        html,
	}, nil
}

// decode converts body to UTF-8 and reports the charset it was read as.
func decode(body []byte, contentType string) (string, string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if r, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && r.Confidence >= 50 {
			if e, n := charset.Lookup(r.Charset); e != nil {
				enc, name = e, n
			}
		}
	}
	if name == "utf-8" || enc == nil {
		return string(body), "utf-8"
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body), "utf-8"
	}
	return string(decoded), name
}

var titlePolicy = bluemonday.StrictPolicy()

// documentTitle returns the plain text of the first <title>.
func documentTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
	return titlePolicy.Sanitize(title)
}
