package webshim

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
)

// Injection is the set of sources placed into a framed document.
type Injection struct {
	// BaseURL becomes the document <base> unless the page declares one.
	BaseURL string
	// Bootstrap runs before every other script.
	Bootstrap string
	Start     []string
	End       []string
}

// Split orders scripts into document-start and document-end sources as
// the web shim injects them. Scripts bound to other worlds run in the page
// world; identical sources are injected once.
func Split(scripts []script.InjectableScript) (start, end []string) {
	seen := make(map[string]struct{}, len(scripts))
	for _, s := range scripts {
		src := platform.SourceFor(platform.KindWebShim, s)
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		if s.InjectionTime == script.AtDocumentEnd {
			end = append(end, src)
		} else {
			start = append(start, src)
		}
	}
	return start, end
}

// Inject rewrites html so start scripts run first in <head> and end
// scripts run last in <body>.
func Inject(html string, in Injection) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	head := doc.Find("head").First()
	body := doc.Find("body").First()
	if head.Length() == 0 || body.Length() == 0 {
		return "", fmt.Errorf("failed to locate document head and body")
	}

	var top strings.Builder
	if in.BaseURL != "" && doc.Find("base[href]").Length() == 0 {
		fmt.Fprintf(&top, `<base href="%s">`, attrEscaper.Replace(in.BaseURL))
	}
	if in.Bootstrap != "" {
		top.WriteString(scriptTag(in.Bootstrap))
	}
	for _, src := range in.Start {
		top.WriteString(scriptTag(src))
	}
	if top.Len() > 0 {
		head.PrependHtml(top.String())
	}

	var bottom strings.Builder
	for _, src := range in.End {
		bottom.WriteString(scriptTag(src))
	}
	if bottom.Len() > 0 {
		body.AppendHtml(bottom.String())
	}

	return goquery.OuterHtml(doc.Selection)
}

var closingScript = regexp.MustCompile(`(?i)</script`)

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

// scriptTag wraps source in an inline script element. A literal closing
// tag inside the source would end the element early.
func scriptTag(src string) string {
	src = closingScript.ReplaceAllStringFunc(src, func(m string) string {
		return `<\/` + m[2:]
	})
	return "<script>" + src + "</script>"
}
