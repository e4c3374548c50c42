package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rcedaq/daqlink-go/pkg/markup"
)

// Built-in device commands.
const (
	CmdReadConfig  = "ReadConfig"
	CmdReadStatus  = "ReadStatus"
	CmdHardReset   = "HardReset"
	CmdSoftReset   = "SoftReset"
	CmdSetDefaults = "SetDefaults"
)

// Encoding errors.
var (
	ErrDelimiterInValue = errors.New("value contains frame delimiter")
	ErrEmptyCommand     = errors.New("empty command")
)

// EncodeConfig builds a configuration write for path:
//
//	<system><config><board index="2"><gain>7</gain></board></config></system>
//
// terminated by Delimiter.
func EncodeConfig(path, value string) ([]byte, error) {
	return encodeNested(CategoryConfig, path, value)
}

// EncodeCommand builds a command message. With an empty path the
// argument is sent as the command name, e.g. <command><Start/></command>;
// otherwise the argument becomes the text of the nested path element.
func EncodeCommand(path, arg string) ([]byte, error) {
	if path == "" {
		if arg == "" {
			return nil, ErrEmptyCommand
		}
		if _, err := ParsePath(arg); err != nil || strings.ContainsAny(arg, ":()") {
			return nil, fmt.Errorf("%w: bad command name %q", ErrInvalidPath, arg)
		}
		return Frame(Document(Section(CategoryCommand, markup.NewElement(arg)))), nil
	}
	return encodeNested(CategoryCommand, path, arg)
}

// EncodeReadConfig asks the device to send its full configuration.
func EncodeReadConfig() []byte { return builtin(CmdReadConfig) }

// EncodeReadStatus asks the device to send its full status.
func EncodeReadStatus() []byte { return builtin(CmdReadStatus) }

// EncodeHardReset requests a hard reset.
func EncodeHardReset() []byte { return builtin(CmdHardReset) }

// EncodeSoftReset requests a soft reset.
func EncodeSoftReset() []byte { return builtin(CmdSoftReset) }

// EncodeSetDefaults restores default configuration.
func EncodeSetDefaults() []byte { return builtin(CmdSetDefaults) }

func builtin(name string) []byte {
	return Frame(Document(Section(CategoryCommand, markup.NewElement(name))))
}

func encodeNested(cat Category, path, value string) ([]byte, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if strings.IndexByte(value, Delimiter) >= 0 {
		return nil, ErrDelimiterInValue
	}
	return Frame(Document(Section(cat, Nest(p, value)))), nil
}

// Nest builds the element chain for p with value as the leaf text.
func Nest(p Path, value string) *markup.Element {
	var outer, cur *markup.Element
	for _, seg := range p {
		el := markup.NewElement(seg.Name)
		if seg.HasIndex {
			el.SetAttr("index", seg.Index)
		}
		if cur == nil {
			outer = el
		} else {
			cur.Append(el)
		}
		cur = el
	}
	cur.Text = value
	cur.HasText = true
	return outer
}

// Section wraps children in a category section element.
func Section(cat Category, children ...*markup.Element) *markup.Element {
	return markup.NewElement(cat.String()).Append(children...)
}

// Document wraps sections in the root element.
func Document(sections ...*markup.Element) *markup.Element {
	return markup.NewElement(RootElement).Append(sections...)
}

// Frame renders a document followed by Delimiter.
func Frame(doc *markup.Element) []byte {
	var buf bytes.Buffer
	doc.Render(&buf)
	buf.WriteByte(Delimiter)
	return buf.Bytes()
}
