package markup

import (
	"net/url"
	"strings"
)

// Links collects the href of every anchor, resolved against Base when set.
type Links struct {
	Base  *url.URL
	Limit int
	URLs  []string
}

// StartElement records a elements with an href.
func (l *Links) StartElement(name string, attrs []Attr) error {
	if name != "a" {
		return nil
	}
	href, ok := Attribute(attrs, "href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	if l.Base != nil {
		ref, err := url.Parse(href)
		if err != nil {
			return nil
		}
		href = l.Base.ResolveReference(ref).String()
	}
	l.URLs = append(l.URLs, href)
	if l.Limit > 0 && len(l.URLs) >= l.Limit {
		return ErrStop
	}
	return nil
}

// EndElement does nothing.
func (l *Links) EndElement(string) error { return nil }

// Text does nothing.
func (l *Links) Text(string) error { return nil }
