package wire

import (
	"errors"
	"fmt"

	"github.com/rcedaq/daqlink-go/pkg/markup"
	"github.com/rcedaq/daqlink-go/pkg/model"
)

// ErrUnexpectedRoot is returned when a document is not rooted at <system>.
var ErrUnexpectedRoot = errors.New("unexpected root element")

// Update is one flattened entry of a decoded message.
//
// Config, status and command updates carry Path and Value. Structure
// updates carry exactly one of Variable or Command, and Path is the
// record's path. Error updates carry the message in Value.
type Update struct {
	Category Category
	Path     string
	Value    string

	Variable *model.Variable
	Command  *model.Command
}

// IsLeaf reports whether the update sets a config or status value.
func (u *Update) IsLeaf() bool {
	return u.Category == CategoryConfig || u.Category == CategoryStatus
}

// Message is a decoded document.
type Message struct {
	// Sections lists the category sections in document order.
	Sections []Category

	// Updates holds the flattened entries in document order.
	Updates []Update
}

// Count returns the number of updates in a category.
func (m *Message) Count(c Category) int {
	n := 0
	for i := range m.Updates {
		if m.Updates[i].Category == c {
			n++
		}
	}
	return n
}

// Paths returns up to limit update paths, for logging.
func (m *Message) Paths(limit int) []string {
	var out []string
	for i := range m.Updates {
		if len(out) == limit {
			break
		}
		if p := m.Updates[i].Path; p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Decode parses one frame payload and flattens it. Malformed markup is
// reported as *markup.ParseError.
func Decode(payload []byte) (*Message, error) {
	root, err := markup.Parse(payload)
	if err != nil {
		return nil, err
	}
	return DecodeElement(root)
}

// DecodeElement flattens an already parsed document.
// Unknown sections and elements are ignored.
func DecodeElement(root *markup.Element) (*Message, error) {
	if root.Name != RootElement {
		return nil, fmt.Errorf("%w <%s>", ErrUnexpectedRoot, root.Name)
	}
	msg := &Message{}
	for _, section := range root.Children {
		cat, ok := ParseCategory(section.Name)
		if !ok {
			continue
		}
		msg.Sections = append(msg.Sections, cat)
		switch cat {
		case CategoryConfig, CategoryStatus, CategoryCommand:
			msg.flatten(cat, section, "", true)
		case CategoryStructure:
			msg.structure(section)
		case CategoryError:
			if section.HasText {
				msg.Updates = append(msg.Updates, Update{Category: CategoryError, Value: section.Text})
			}
		}
	}
	return msg, nil
}

// flatten walks a value section. The section element itself contributes
// no path segment, but its index attribute is kept.
func (m *Message) flatten(cat Category, el *markup.Element, parent string, sectionRoot bool) {
	path := parent
	if !sectionRoot {
		path = JoinPath(parent, Segment{Name: el.Name})
	}
	if idx, ok := el.Index(); ok && idx != "" {
		path += "(" + idx + ")"
	}

	if len(el.Children) > 0 {
		for _, c := range el.Children {
			m.flatten(cat, c, path, false)
		}
		return
	}
	if path == "" {
		return
	}
	// Commands such as <ReadConfig/> carry no text.
	if el.HasText || cat == CategoryCommand {
		m.Updates = append(m.Updates, Update{Category: cat, Path: path, Value: el.Text})
	}
}

func (m *Message) structure(section *markup.Element) {
	for _, c := range section.Children {
		switch c.Name {
		case "device":
			m.device("", c)
		case "variable":
			m.variable("", c)
		case "command":
			m.command("", c)
		}
	}
}

// device accumulates a "name(index):" prefix for nested records. The
// index only attaches when the index element precedes the name element.
func (m *Message) device(prefix string, el *markup.Element) {
	path := prefix
	index := ""
	for _, c := range el.Children {
		switch c.Name {
		case "index":
			index = c.Text
		case "name":
			if index != "" {
				path = prefix + c.Text + "(" + index + ")" + PathSeparator
			} else {
				path = prefix + c.Text + PathSeparator
			}
		case "variable":
			m.variable(path, c)
		case "command":
			m.command(path, c)
		case "device":
			m.device(path, c)
		}
	}
}

func (m *Message) variable(prefix string, el *markup.Element) {
	v := model.Variable{}
	for _, c := range el.Children {
		switch c.Name {
		case "name":
			v.Path = prefix + c.Text
		case "type":
			v.Type = c.Text
		case "enum":
			v.Enums = append(v.Enums, c.Text)
		case "compA":
			v.CompA = c.Text
		case "compB":
			v.CompB = c.Text
		case "compC":
			v.CompC = c.Text
		case "compUnits":
			v.CompUnits = c.Text
		case "min":
			v.Min = c.Text
		case "max":
			v.Max = c.Text
		case "perInstance":
			v.PerInstance = true
		case "hidden":
			v.Hidden = true
		case "description":
			v.Description = c.Text
		}
	}
	v.Kind = model.KindForType(v.Type)
	m.Updates = append(m.Updates, Update{Category: CategoryStructure, Path: v.Path, Variable: &v})
}

func (m *Message) command(prefix string, el *markup.Element) {
	cmd := model.Command{}
	for _, c := range el.Children {
		switch c.Name {
		case "name":
			cmd.Path = prefix + c.Text
		case "hasArg":
			cmd.HasArg = true
		case "hidden":
			cmd.Hidden = true
		case "description":
			cmd.Description = c.Text
		}
	}
	m.Updates = append(m.Updates, Update{Category: CategoryStructure, Path: cmd.Path, Command: &cmd})
}
