package markup

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxDepth bounds element nesting.
const MaxDepth = 256

// ParseError reports malformed markup.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("markup: offset %d: %s", e.Offset, e.Msg)
}

// Parse parses one document and returns its root element.
// Trailing whitespace and NUL bytes after the root are tolerated.
func Parse(data []byte) (*Element, error) {
	p := &parser{data: data}
	if err := p.skipMisc(); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, p.errorf("no root element")
	}
	if p.data[p.pos] != '<' {
		return nil, p.errorf("unexpected character %q before root element", p.data[p.pos])
	}
	root, err := p.element(0)
	if err != nil {
		return nil, err
	}
	if err := p.skipMisc(); err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errorf("content after root element")
	}
	return root, nil
}

// ParseString is Parse for string input.
func ParseString(s string) (*Element, error) {
	return Parse([]byte(s))
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) hasPrefix(s string) bool {
	return bytes.HasPrefix(p.data[p.pos:], []byte(s))
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.data[p.pos]) {
		p.pos++
	}
}

// skipUntil advances past the next occurrence of end.
func (p *parser) skipUntil(end, what string) error {
	i := bytes.Index(p.data[p.pos:], []byte(end))
	if i < 0 {
		return p.errorf("unterminated %s", what)
	}
	p.pos += i + len(end)
	return nil
}

// skipMisc skips whitespace, NULs, comments, processing instructions and
// doctype declarations outside the root element.
func (p *parser) skipMisc() error {
	for {
		for !p.eof() && (isSpace(p.data[p.pos]) || p.data[p.pos] == 0) {
			p.pos++
		}
		var err error
		switch {
		case p.hasPrefix("<?"):
			err = p.skipUntil("?>", "processing instruction")
		case p.hasPrefix("<!--"):
			err = p.skipUntil("-->", "comment")
		case p.hasPrefix("<!DOCTYPE"):
			err = p.skipUntil(">", "doctype")
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) name() string {
	start := p.pos
	for !p.eof() {
		r, size := utf8.DecodeRune(p.data[p.pos:])
		if !isNameRune(r, p.pos == start) {
			break
		}
		p.pos += size
	}
	return string(p.data[start:p.pos])
}

func (p *parser) element(depth int) (*Element, error) {
	if depth >= MaxDepth {
		return nil, p.errorf("nesting deeper than %d", MaxDepth)
	}
	p.pos++ // '<'
	qname := p.name()
	if qname == "" {
		return nil, p.errorf("missing element name")
	}
	el := &Element{Name: localName(qname)}

	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated start tag <%s>", qname)
		}
		switch c := p.data[p.pos]; {
		case c == '/':
			if !p.hasPrefix("/>") {
				return nil, p.errorf("expected '/>' in <%s>", qname)
			}
			p.pos += 2
			return el, nil
		case c == '>':
			p.pos++
			return el, p.content(el, qname, depth)
		default:
			if err := p.attribute(el); err != nil {
				return nil, err
			}
		}
	}
}

func (p *parser) attribute(el *Element) error {
	qname := p.name()
	if qname == "" {
		return p.errorf("illegal character %q in tag <%s>", p.data[p.pos], el.Name)
	}
	p.skipSpace()
	if p.eof() || p.data[p.pos] != '=' {
		return p.errorf("attribute %s without value", qname)
	}
	p.pos++
	p.skipSpace()
	if p.eof() || (p.data[p.pos] != '"' && p.data[p.pos] != '\'') {
		return p.errorf("attribute %s value not quoted", qname)
	}
	quote := p.data[p.pos]
	p.pos++
	end := bytes.IndexByte(p.data[p.pos:], quote)
	if end < 0 {
		return p.errorf("unterminated value for attribute %s", qname)
	}
	raw := p.data[p.pos : p.pos+end]
	if bytes.IndexByte(raw, '<') >= 0 {
		return p.errorf("'<' in value of attribute %s", qname)
	}
	value, err := p.unescape(raw)
	if err != nil {
		return err
	}
	p.pos += end + 1

	key := localName(qname)
	if _, dup := el.Attr(key); dup {
		return p.errorf("duplicate attribute %s", qname)
	}
	el.SetAttr(key, value)
	return nil
}

func (p *parser) content(el *Element, qname string, depth int) error {
	var (
		text     strings.Builder
		hasText  bool
		nonBlank bool
	)
	for {
		if p.eof() {
			return p.errorf("unclosed element <%s>", qname)
		}
		switch {
		case p.hasPrefix("</"):
			p.pos += 2
			closeName := p.name()
			if closeName != qname {
				return p.errorf("mismatched end tag </%s>, expected </%s>", closeName, qname)
			}
			p.skipSpace()
			if p.eof() || p.data[p.pos] != '>' {
				return p.errorf("malformed end tag </%s>", closeName)
			}
			p.pos++
			if len(el.Children) > 0 {
				if nonBlank {
					return p.errorf("mixed text and elements in <%s>", qname)
				}
				return nil
			}
			if hasText {
				el.Text = text.String()
				el.HasText = true
			}
			return nil
		case p.hasPrefix("<!--"):
			if err := p.skipUntil("-->", "comment"); err != nil {
				return err
			}
		case p.hasPrefix("<![CDATA["):
			p.pos += len("<![CDATA[")
			i := bytes.Index(p.data[p.pos:], []byte("]]>"))
			if i < 0 {
				return p.errorf("unterminated CDATA section")
			}
			text.Write(p.data[p.pos : p.pos+i])
			hasText, nonBlank = true, true
			p.pos += i + 3
		case p.hasPrefix("<?"):
			if err := p.skipUntil("?>", "processing instruction"); err != nil {
				return err
			}
		case p.data[p.pos] == '<':
			child, err := p.element(depth + 1)
			if err != nil {
				return err
			}
			el.Children = append(el.Children, child)
		default:
			end := bytes.IndexByte(p.data[p.pos:], '<')
			if end < 0 {
				end = len(p.data) - p.pos
			}
			raw := p.data[p.pos : p.pos+end]
			if bytes.Contains(raw, []byte("]]>")) {
				return p.errorf("']]>' in character data")
			}
			s, err := p.unescape(raw)
			if err != nil {
				return err
			}
			text.WriteString(s)
			hasText = true
			if strings.TrimSpace(s) != "" {
				nonBlank = true
			}
			p.pos += end
		}
	}
}

var predefinedEntities = map[string]string{
	"lt":   "<",
	"gt":   ">",
	"amp":  "&",
	"quot": `"`,
	"apos": "'",
}

func (p *parser) unescape(raw []byte) (string, error) {
	for i, c := range raw {
		if c < 0x20 && !isSpace(c) {
			return "", &ParseError{Offset: p.pos + i, Msg: fmt.Sprintf("illegal character %#02x", c)}
		}
	}
	if bytes.IndexByte(raw, '&') < 0 {
		if !utf8.Valid(raw) {
			return "", p.errorf("invalid UTF-8")
		}
		return string(raw), nil
	}
	var b strings.Builder
	for i := 0; i < len(raw); {
		c := raw[i]
		if c != '&' {
			b.WriteByte(c)
			i++
			continue
		}
		semi := bytes.IndexByte(raw[i:], ';')
		if semi < 0 {
			return "", &ParseError{Offset: p.pos + i, Msg: "unterminated entity reference"}
		}
		ref := string(raw[i+1 : i+semi])
		if v, ok := predefinedEntities[ref]; ok {
			b.WriteString(v)
		} else if r, ok := charRef(ref); ok {
			b.WriteRune(r)
		} else {
			return "", &ParseError{Offset: p.pos + i, Msg: fmt.Sprintf("unknown entity &%s;", ref)}
		}
		i += semi + 1
	}
	if !utf8.ValidString(b.String()) {
		return "", p.errorf("invalid UTF-8")
	}
	return b.String(), nil
}

func charRef(ref string) (rune, bool) {
	if !strings.HasPrefix(ref, "#") {
		return 0, false
	}
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(ref, "#x") {
		n, err = strconv.ParseUint(ref[2:], 16, 32)
	} else {
		n, err = strconv.ParseUint(ref[1:], 10, 32)
	}
	if err != nil || n == 0 || !utf8.ValidRune(rune(n)) {
		return 0, false
	}
	return rune(n), true
}

func localName(qname string) string {
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isNameRune(r rune, first bool) bool {
	switch {
	case r == '_' || r == ':':
		return true
	case r == '-' || r == '.' || unicode.IsDigit(r):
		return !first
	case r == utf8.RuneError:
		return false
	default:
		return unicode.IsLetter(r)
	}
}
