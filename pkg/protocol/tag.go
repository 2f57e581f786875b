package protocol

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Tag is one node of a packing-instruction tree. A node carries either a
// scalar Value or ordered Children, never both on the wire.
type Tag struct {
	Name     string
	Value    string
	Children []*Tag
}

// NewTag creates a structure node.
func NewTag(name string, children ...*Tag) *Tag {
	return &Tag{Name: name, Children: children}
}

// Str creates a string leaf.
func Str(name, value string) *Tag {
	return &Tag{Name: name, Value: value}
}

// Int creates an integer leaf.
func Int(name string, value int) *Tag {
	return &Tag{Name: name, Value: strconv.Itoa(value)}
}

// Int64 creates a long leaf (the server's "double").
func Int64(name string, value int64) *Tag {
	return &Tag{Name: name, Value: strconv.FormatInt(value, 10)}
}

// Add appends children and returns t.
func (t *Tag) Add(children ...*Tag) *Tag {
	t.Children = append(t.Children, children...)
	return t
}

// Child returns the first direct child with the given name, or nil.
func (t *Tag) Child(name string) *Tag {
	if t == nil {
		return nil
	}
	for _, c := range t.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every direct child with the given name, in order.
func (t *Tag) All(name string) []*Tag {
	if t == nil {
		return nil
	}
	var out []*Tag
	for _, c := range t.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether a direct child with the given name exists.
func (t *Tag) Has(name string) bool {
	return t.Child(name) != nil
}

// GetStr returns the value of a required string field.
func (t *Tag) GetStr(name string) (string, error) {
	c := t.Child(name)
	if c == nil {
		return "", t.missing(name)
	}
	return c.Value, nil
}

// OptionalStr returns the value of a string field and whether it was present.
func (t *Tag) OptionalStr(name string) (string, bool) {
	c := t.Child(name)
	if c == nil {
		return "", false
	}
	return c.Value, true
}

// GetInt returns the value of a required int field.
func (t *Tag) GetInt(name string) (int, error) {
	c := t.Child(name)
	if c == nil {
		return 0, t.missing(name)
	}
	v, err := strconv.Atoi(strings.TrimSpace(c.Value))
	if err != nil {
		return 0, fault.Wrap(fault.ProtocolViolation, "decode", errors.Wrapf(err, "field %s", name))
	}
	return v, nil
}

// GetInt64 returns the value of a required long field.
func (t *Tag) GetInt64(name string) (int64, error) {
	v, ok, err := t.OptionalInt64(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, t.missing(name)
	}
	return v, nil
}

// OptionalInt64 returns a long field and whether it was present. An absent
// field is "not provided", which callers must not confuse with zero.
func (t *Tag) OptionalInt64(name string) (int64, bool, error) {
	c := t.Child(name)
	if c == nil {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(c.Value), 10, 64)
	if err != nil {
		return 0, true, fault.Wrap(fault.ProtocolViolation, "decode", errors.Wrapf(err, "field %s", name))
	}
	return v, true, nil
}

func (t *Tag) missing(name string) error {
	parent := "<nil>"
	if t != nil {
		parent = t.Name
	}
	return fault.Newf(fault.ProtocolViolation, "decode", "%s has no field %s", parent, name)
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Render serialises the tree in the server's XML dialect: one element per
// line, no declaration, no indentation.
func (t *Tag) Render() []byte {
	var buf bytes.Buffer
	t.render(&buf)
	return buf.Bytes()
}

func (t *Tag) render(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(t.Name)
	buf.WriteByte('>')
	if len(t.Children) > 0 {
		buf.WriteByte('\n')
		for _, c := range t.Children {
			c.render(buf)
		}
	} else {
		buf.WriteString(escaper.Replace(t.Value))
	}
	buf.WriteString("</")
	buf.WriteString(t.Name)
	buf.WriteString(">\n")
}

// String renders the tree, for logging.
func (t *Tag) String() string {
	return string(t.Render())
}

// Decode parses one packing-instruction tree.
func Decode(b []byte) (*Tag, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false

	var root *Tag
	var stack []*Tag
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.ProtocolViolation, "decode", errors.Wrap(err, "parse packet"))
		}
		switch el := tok.(type) {
		case xml.StartElement:
			node := &Tag{Name: el.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fault.New(fault.ProtocolViolation, "decode", "multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Value += string(el)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fault.New(fault.ProtocolViolation, "decode", "unbalanced packet")
			}
			node := stack[len(stack)-1]
			if len(node.Children) > 0 {
				node.Value = ""
			}
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, fault.New(fault.ProtocolViolation, "decode", "empty packet")
	}
	if len(stack) != 0 {
		return nil, fault.New(fault.ProtocolViolation, "decode", "truncated packet")
	}
	return root, nil
}
