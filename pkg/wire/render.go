package wire

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rcedaq/daqlink-go/pkg/markup"
	"github.com/rcedaq/daqlink-go/pkg/model"
)

// ErrPathConflict is returned when one path is a prefix of another, so
// an element would need both text and children.
var ErrPathConflict = errors.New("path is both leaf and parent")

// RenderValues builds a config or status section from a flat map,
// merging shared path prefixes into common elements. Paths are rendered
// in sorted order.
func RenderValues(cat Category, values map[string]string) (*markup.Element, error) {
	section := markup.NewElement(cat.String())
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, s := range paths {
		p, err := ParsePath(s)
		if err != nil {
			return nil, err
		}
		cur := section
		for i, seg := range p {
			next := findSegment(cur, seg)
			if next == nil {
				if cur.HasText {
					return nil, fmt.Errorf("%w: %s", ErrPathConflict, s)
				}
				next = markup.NewElement(seg.Name)
				if seg.HasIndex {
					next.SetAttr("index", seg.Index)
				}
				cur.Append(next)
			}
			cur = next
			if i == len(p)-1 {
				if len(cur.Children) > 0 {
					return nil, fmt.Errorf("%w: %s", ErrPathConflict, s)
				}
				cur.Text = values[s]
				cur.HasText = true
			}
		}
	}
	return section, nil
}

func findSegment(parent *markup.Element, seg Segment) *markup.Element {
	for _, c := range parent.Children {
		if c.Name != seg.Name {
			continue
		}
		idx, has := c.Index()
		if has == seg.HasIndex && idx == seg.Index {
			return c
		}
	}
	return nil
}

// RenderStructure builds a structure section describing every variable
// and command with its full path as name.
func RenderStructure(vars []model.Variable, cmds []model.Command) *markup.Element {
	section := markup.NewElement(CategoryStructure.String())
	for _, v := range vars {
		el := markup.NewElement("variable").Append(markup.NewText("name", v.Path))
		typ := v.Type
		if typ == "" && v.Kind == model.KindStatus {
			typ = model.StatusType
		}
		appendText(el, "type", typ)
		for _, e := range v.Enums {
			el.Append(markup.NewText("enum", e))
		}
		appendText(el, "compA", v.CompA)
		appendText(el, "compB", v.CompB)
		appendText(el, "compC", v.CompC)
		appendText(el, "compUnits", v.CompUnits)
		appendText(el, "min", v.Min)
		appendText(el, "max", v.Max)
		if v.PerInstance {
			el.Append(markup.NewElement("perInstance"))
		}
		if v.Hidden {
			el.Append(markup.NewElement("hidden"))
		}
		appendText(el, "description", v.Description)
		section.Append(el)
	}
	for _, c := range cmds {
		el := markup.NewElement("command").Append(markup.NewText("name", c.Path))
		if c.HasArg {
			el.Append(markup.NewElement("hasArg"))
		}
		if c.Hidden {
			el.Append(markup.NewElement("hidden"))
		}
		appendText(el, "description", c.Description)
		section.Append(el)
	}
	return section
}

func appendText(el *markup.Element, name, text string) {
	if text != "" {
		el.Append(markup.NewText(name, text))
	}
}

// RenderError builds an error section.
func RenderError(msg string) *markup.Element {
	return markup.NewText(CategoryError.String(), msg)
}
