// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// portable.go — the portable backend: builds or walks the element tree
// rendered as a versioned XML document. Tag names are asserted positionally
// on load; attributes carry identity, version, and encoding markers.

package amber

import (
	"bytes"
	"fmt"

	"github.com/AndrewDonelson/amber/internal/tagtree"
)

const (
	rootTag      = "serial"
	formatAttr   = "format"
	formatMarker = "1"
	creatorAttr  = "creator"
)

// xmlSaver accumulates the document for a portable save pass. The root
// element carries the stream format marker and the producing build.
type xmlSaver struct {
	root  *tagtree.Element
	stack []*tagtree.Element
}

func newXMLSaver() *xmlSaver {
	root := tagtree.New(rootTag)
	root.AddAttr(formatAttr, formatMarker)
	root.AddAttr(creatorAttr, Creator())
	return &xmlSaver{root: root, stack: []*tagtree.Element{root}}
}

func (x *xmlSaver) top() *tagtree.Element { return x.stack[len(x.stack)-1] }

func (x *xmlSaver) beginTag(name string) {
	el := tagtree.New(name)
	x.top().AddChild(el)
	x.stack = append(x.stack, el)
}

func (x *xmlSaver) endTag() {
	x.stack = x.stack[:len(x.stack)-1]
}

func (x *xmlSaver) attr(name, value string) {
	x.top().AddAttr(name, value)
}

func (x *xmlSaver) setData(text string) {
	x.top().Data = text
}

// openTags returns how many beginTag calls have no matching endTag.
func (x *xmlSaver) openTags() int { return len(x.stack) - 1 }

func (x *xmlSaver) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := x.root.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// xmlLoader walks a parsed document positionally. Each frame tracks the
// next unconsumed child of its element.
type xmlLoader struct {
	stack []xmlFrame
}

type xmlFrame struct {
	el   *tagtree.Element
	next int
}

func newXMLLoader(root *tagtree.Element) *xmlLoader {
	return &xmlLoader{stack: []xmlFrame{{el: root}}}
}

func (x *xmlLoader) top() *xmlFrame { return &x.stack[len(x.stack)-1] }

// beginTag asserts that the next child element is named name and descends
// into it. The name is a structural check only, never a search key.
func (x *xmlLoader) beginTag(name string) error {
	f := x.top()
	if f.next >= len(f.el.Children) {
		return fmt.Errorf("%w: wanted %q, but %q has no elements left", ErrTagMismatch, name, f.el.Name)
	}
	child := f.el.Children[f.next]
	if child.Name != name {
		return fmt.Errorf("%w: wanted %q, got %q", ErrTagMismatch, name, child.Name)
	}
	f.next++
	x.stack = append(x.stack, xmlFrame{el: child})
	return nil
}

func (x *xmlLoader) endTag() {
	x.stack = x.stack[:len(x.stack)-1]
}

func (x *xmlLoader) data() string {
	return x.top().el.Data
}

func (x *xmlLoader) attr(name string) (string, bool) {
	return x.top().el.Attr(name)
}

func (x *xmlLoader) countChildren() int {
	return len(x.top().el.Children)
}
