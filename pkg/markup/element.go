package markup

// Element is one node of a parsed document.
type Element struct {
	Name  string
	Attrs map[string]string

	// Children holds child elements in document order.
	Children []*Element

	// Text is the element's character data. HasText is set when the
	// element had a text node; <a></a> and <a/> have none.
	Text    string
	HasText bool
}

// NewElement creates an element with the given name and no attributes.
func NewElement(name string) *Element {
	return &Element{Name: name}
}

// NewText creates a leaf element holding text.
func NewText(name, text string) *Element {
	return &Element{Name: name, Text: text, HasText: true}
}

// Attr returns the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	if e.Attrs == nil {
		return "", false
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// SetAttr sets an attribute, allocating the map on first use.
func (e *Element) SetAttr(name, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
	return e
}

// Index returns the value of the "index" attribute. An absent attribute
// is reported separately from an attribute whose value is "0".
func (e *Element) Index() (string, bool) {
	return e.Attr("index")
}

// Append adds children and returns e.
func (e *Element) Append(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// Child returns the first child element with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child element with the given name.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// IsLeaf reports whether the element has no child elements and exactly
// one text value.
func (e *Element) IsLeaf() bool {
	return len(e.Children) == 0 && e.HasText
}

// Walk calls fn for e and every descendant in document order. Returning
// false from fn skips the element's children.
func (e *Element) Walk(fn func(*Element) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(fn)
	}
}
