package markup

import (
	"errors"
	"io"

	"golang.org/x/net/html"
)

// ParseHTML tokenizes the HTML in r, encoded in the charset named by label,
// and feeds h. Tag names are lowercased. Self closing tags produce a start
// and an end event. Comments and doctypes are skipped.
func ParseHTML(r io.Reader, label string, h Handler) error {
	reader, err := decode(r, label)
	if err != nil {
		return err
	}
	z := html.NewTokenizer(reader)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		case html.TextToken:
			err = h.Text(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			var attrs []Attr
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				attrs = append(attrs, Attr{Name: string(key), Value: string(val)})
			}
			err = h.StartElement(tag, attrs)
			if err == nil && tt == html.SelfClosingTagToken {
				err = h.EndElement(tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			err = h.EndElement(string(name))
		default:
			continue
		}
		if err != nil {
			return stopped(err)
		}
	}
}
