package markup

import (
	"encoding/xml"
	"errors"
	"io"

	"golang.org/x/net/html/charset"
)

// ParseXML decodes the XML in r and feeds h. With an empty label the
// encoding declaration of the document selects the charset, otherwise label
// does and the declaration is ignored. Element names are local names.
func ParseXML(r io.Reader, label string, h Handler) error {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	if label != "" {
		reader, err := decode(r, label)
		if err != nil {
			return err
		}
		d = xml.NewDecoder(reader)
		d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
			return input, nil
		}
	}

	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			attrs := make([]Attr, len(t.Attr))
			for i, a := range t.Attr {
				attrs[i] = Attr{Name: a.Name.Local, Value: a.Value}
			}
			err = h.StartElement(t.Name.Local, attrs)
		case xml.EndElement:
			err = h.EndElement(t.Name.Local)
		case xml.CharData:
			err = h.Text(string(t))
		}
		if err != nil {
			return stopped(err)
		}
	}
}
