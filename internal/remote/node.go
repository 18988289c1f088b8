package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	Null Kind = iota
	Scalar
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "null"
	}
}

// Node is a decoded remote payload: null, a scalar (string, number or bool),
// a sequence, or a mapping whose keys keep their wire order. The zero value
// is Null, so lookups on missing keys can be chained safely.
type Node struct {
	kind   Kind
	scalar interface{} // string, json.Number or bool
	items  []Node
	keys   []string
	fields map[string]Node
}

// ParseJSON decodes a single JSON document into a Node.
func ParseJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeNode(dec)
	if err != nil {
		return Node{}, fmt.Errorf("remote: parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Node{}, fmt.Errorf("remote: parse json: trailing data")
	}
	return n, nil
}

func decodeNode(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := Node{kind: Mapping, fields: map[string]Node{}}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Node{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Node{}, fmt.Errorf("unexpected key token %v", kt)
				}
				child, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				if _, dup := n.fields[key]; !dup {
					n.keys = append(n.keys, key)
				}
				n.fields[key] = child
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return n, nil
		case '[':
			n := Node{kind: Sequence, items: []Node{}}
			for dec.More() {
				child, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				n.items = append(n.items, child)
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return n, nil
		default:
			return Node{}, fmt.Errorf("unexpected delimiter %q", v)
		}
	case nil:
		return Node{}, nil
	default:
		return Node{kind: Scalar, scalar: v}, nil
	}
}

// FromValue converts plain Go values (as produced by encoding/json into
// interface{}) into a Node. Map keys are sorted since Go maps carry no order.
func FromValue(v interface{}) Node {
	switch t := v.(type) {
	case nil:
		return Node{}
	case Node:
		return t
	case string, bool, json.Number:
		return Node{kind: Scalar, scalar: t}
	case int:
		return Node{kind: Scalar, scalar: json.Number(strconv.Itoa(t))}
	case int64:
		return Node{kind: Scalar, scalar: json.Number(strconv.FormatInt(t, 10))}
	case float64:
		return Node{kind: Scalar, scalar: json.Number(strconv.FormatFloat(t, 'f', -1, 64))}
	case []string:
		n := Node{kind: Sequence, items: make([]Node, 0, len(t))}
		for _, s := range t {
			n.items = append(n.items, FromValue(s))
		}
		return n
	case []interface{}:
		n := Node{kind: Sequence, items: make([]Node, 0, len(t))}
		for _, item := range t {
			n.items = append(n.items, FromValue(item))
		}
		return n
	case []map[string]interface{}:
		n := Node{kind: Sequence, items: make([]Node, 0, len(t))}
		for _, item := range t {
			n.items = append(n.items, FromValue(item))
		}
		return n
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := Node{kind: Mapping, keys: keys, fields: make(map[string]Node, len(t))}
		for _, k := range keys {
			n.fields[k] = FromValue(t[k])
		}
		return n
	default:
		return Node{kind: Scalar, scalar: fmt.Sprint(t)}
	}
}

// Kind returns the variant tag.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether n is Null.
func (n Node) IsNull() bool { return n.kind == Null }

// Str returns the value of a string scalar.
func (n Node) Str() (string, bool) {
	if n.kind != Scalar {
		return "", false
	}
	s, ok := n.scalar.(string)
	return s, ok
}

// Text renders any scalar as a string; non-scalars yield "".
func (n Node) Text() string {
	if n.kind != Scalar {
		return ""
	}
	switch v := n.scalar.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Bool returns a boolean scalar, or false.
func (n Node) Bool() bool {
	b, _ := n.scalar.(bool)
	return n.kind == Scalar && b
}

// Int returns a numeric scalar truncated to int64, or 0.
func (n Node) Int() int64 {
	num, ok := n.scalar.(json.Number)
	if n.kind != Scalar || !ok {
		return 0
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	f, _ := num.Float64()
	return int64(f)
}

// Get returns the value under key, or Null when n is not a mapping or the
// key is absent.
func (n Node) Get(key string) Node {
	if n.kind != Mapping {
		return Node{}
	}
	return n.fields[key]
}

// Has reports whether a mapping carries key, even with a null value.
func (n Node) Has(key string) bool {
	if n.kind != Mapping {
		return false
	}
	_, ok := n.fields[key]
	return ok
}

// Path follows successive mapping keys.
func (n Node) Path(keys ...string) Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
	}
	return cur
}

// Keys returns mapping keys in wire order.
func (n Node) Keys() []string { return n.keys }

// Items returns sequence elements.
func (n Node) Items() []Node { return n.items }

// Len returns the number of elements of a sequence or entries of a mapping.
func (n Node) Len() int {
	switch n.kind {
	case Sequence:
		return len(n.items)
	case Mapping:
		return len(n.keys)
	}
	return 0
}

// Walk visits every descendant of n depth-first in wire order. Mapping
// entries are visited with their key, sequence elements with key "".
func (n Node) Walk(visit func(key string, v Node)) {
	switch n.kind {
	case Mapping:
		for _, k := range n.keys {
			child := n.fields[k]
			visit(k, child)
			child.Walk(visit)
		}
	case Sequence:
		for _, child := range n.items {
			visit("", child)
			child.Walk(visit)
		}
	}
}

// MarshalJSON encodes n, keeping mapping key order.
func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n Node) encode(buf *bytes.Buffer) error {
	switch n.kind {
	case Scalar:
		data, err := json.Marshal(n.scalar)
		if err != nil {
			return err
		}
		buf.Write(data)
	case Sequence:
		buf.WriteByte('[')
		for i, item := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Mapping:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			if err := n.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
	return nil
}

// String returns the compact JSON form of n.
func (n Node) String() string {
	data, err := n.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
