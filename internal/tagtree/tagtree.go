// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// tagtree.go — element tree behind the portable archive backend: ordered
// attributes, nested children, character data, and XML rendering for the
// durable save-file form.

// Package tagtree models the hierarchical document built and walked by
// the portable archive backend.
package tagtree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Attr is a single name="value" pair. Order of attributes is preserved.
type Attr struct {
	Name  string
	Value string
}

// Element is one node of the document. A node carries either character
// data or child elements, never both.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
	Data     string
}

// New returns an element with the given tag name.
func New(name string) *Element {
	return &Element{Name: name}
}

// AddAttr appends an attribute. Callers must not add the same name twice.
func (e *Element) AddAttr(name, value string) {
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AddChild appends a child element.
func (e *Element) AddChild(c *Element) {
	e.Children = append(e.Children, c)
}

const header = "<?xml version=\"1.0\" ?>\n"

// Render writes the element as an indented XML document, including the
// XML declaration.
func (e *Element) Render(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString(header)
	renderElement(&buf, e, 0)
	_, err := w.Write(buf.Bytes())
	return err
}

func renderElement(buf *bytes.Buffer, e *Element, depth int) {
	indent := strings.Repeat("  ", depth)
	buf.WriteString(indent)
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	for _, a := range e.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		escapeTo(buf, a.Value)
		buf.WriteByte('"')
	}
	switch {
	case len(e.Children) > 0:
		buf.WriteString(">\n")
		for _, c := range e.Children {
			renderElement(buf, c, depth+1)
		}
		buf.WriteString(indent)
		buf.WriteString("</")
		buf.WriteString(e.Name)
		buf.WriteString(">\n")
	case e.Data != "":
		buf.WriteByte('>')
		escapeTo(buf, e.Data)
		buf.WriteString("</")
		buf.WriteString(e.Name)
		buf.WriteString(">\n")
	default:
		buf.WriteString("/>\n")
	}
}

func escapeTo(buf *bytes.Buffer, s string) {
	// xml.EscapeText only fails on a failing writer; bytes.Buffer never does.
	_ = xml.EscapeText(buf, []byte(s))
}

// Parse decodes an XML document into an element tree. Comments,
// processing instructions, and directives are skipped. Character data is
// kept verbatim for leaf elements and discarded for elements that have
// children (indentation whitespace).
func Parse(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		root  *Element
		stack []*Element
		texts []string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tagtree: malformed document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := New(t.Name.Local)
			for _, a := range t.Attr {
				el.AddAttr(a.Name.Local, a.Value)
			}
			if len(stack) > 0 {
				stack[len(stack)-1].AddChild(el)
			} else if root == nil {
				root = el
			} else {
				return nil, errors.New("tagtree: multiple root elements")
			}
			stack = append(stack, el)
			texts = append(texts, "")
		case xml.EndElement:
			el := stack[len(stack)-1]
			if len(el.Children) == 0 {
				el.Data = texts[len(texts)-1]
			}
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		case xml.CharData:
			if len(stack) > 0 {
				texts[len(texts)-1] += string(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("tagtree: empty document")
	}
	if len(stack) != 0 {
		return nil, errors.New("tagtree: unclosed element")
	}
	return root, nil
}
