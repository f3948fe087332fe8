// Package markup streams HTML and XML response bodies to a Handler,
// decoding the named charset to UTF-8 first.
package markup

import (
	"errors"
	"io"

	"golang.org/x/net/html/charset"
)

// ErrStop may be returned by a Handler to end parsing early. The parse
// functions then return nil.
var ErrStop = errors.New("markup: stop")

// Attr is an element attribute.
type Attr struct {
	Name  string
	Value string
}

// Handler receives parse events in document order.
type Handler interface {
	StartElement(name string, attrs []Attr) error
	EndElement(name string) error
	Text(data string) error
}

// Funcs adapts optional functions to a Handler, nil fields ignore the event.
type Funcs struct {
	Start func(name string, attrs []Attr) error
	End   func(name string) error
	Chars func(data string) error
}

// StartElement calls f.Start.
func (f Funcs) StartElement(name string, attrs []Attr) error {
	if f.Start == nil {
		return nil
	}
	return f.Start(name, attrs)
}

// EndElement calls f.End.
func (f Funcs) EndElement(name string) error {
	if f.End == nil {
		return nil
	}
	return f.End(name)
}

// Text calls f.Chars.
func (f Funcs) Text(data string) error {
	if f.Chars == nil {
		return nil
	}
	return f.Chars(data)
}

// Attribute returns the value of the attribute named name.
func Attribute(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func decode(r io.Reader, label string) (io.Reader, error) {
	if label == "" {
		return r, nil
	}
	return charset.NewReaderLabel(label, r)
}

func stopped(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
