package markup

import (
	"bytes"
	"io"
	"sort"
	"strings"
)

// Render appends the element's markup to buf.
// Attributes are written in sorted order so output is deterministic.
// Elements without children or text are written self-closing.
func (e *Element) Render(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	if len(e.Attrs) > 0 {
		keys := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteByte(' ')
			buf.WriteString(k)
			buf.WriteString(`="`)
			attrEscaper.WriteString(buf, e.Attrs[k])
			buf.WriteByte('"')
		}
	}
	if len(e.Children) == 0 && !e.HasText {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	if len(e.Children) > 0 {
		for _, c := range e.Children {
			c.Render(buf)
		}
	} else {
		textEscaper.WriteString(buf, e.Text)
	}
	buf.WriteString("</")
	buf.WriteString(e.Name)
	buf.WriteByte('>')
}

// WriteTo writes the rendered element to w.
func (e *Element) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	e.Render(&buf)
	return buf.WriteTo(w)
}

// String returns the rendered element.
func (e *Element) String() string {
	var buf bytes.Buffer
	e.Render(&buf)
	return buf.String()
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// EscapeText escapes s for use as character data.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}
