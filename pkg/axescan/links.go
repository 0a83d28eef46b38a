package axescan

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns unique same-domain absolute HTTP(S) URLs found in
// anchor tags, with fragments stripped. Non-navigational schemes
// (mailto, javascript, tel) and bare fragment links are skipped.
func ExtractLinks(pageHTML, pageURL string) []string {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" || attr.Val == "" {
					continue
				}
				if link, ok := normalizeLink(attr.Val, base); ok && !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// normalizeLink resolves href against base and filters to same-domain
// HTTP(S) targets.
func normalizeLink(href string, base *url.URL) (string, bool) {
	for _, prefix := range []string{"mailto:", "javascript:", "tel:", "#"} {
		if strings.HasPrefix(href, prefix) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host != base.Host {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}
