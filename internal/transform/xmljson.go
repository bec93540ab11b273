package transform

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// Conversion conventions between XML and JSON:
//   - element attributes become "@name" keys
//   - mixed text content becomes a "#text" key
//   - repeated sibling elements collapse into a JSON array
//
// The same conventions are honored in both directions, so converting
// XML -> JSON -> XML preserves structure.
const (
	attrPrefix = "@"
	textKey    = "#text"
)

// NewXMLToJSON creates a unit that converts an XML payload to JSON.
func NewXMLToJSON(name string) Unit {
	return NewUnit(name, message.FormatXML, message.FormatJSON,
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			root, value, err := decodeXML(msg.Payload())
			if err != nil {
				return nil, fmt.Errorf("decode xml: %w", err)
			}

			out, err := json.Marshal(map[string]any{root: value})
			if err != nil {
				return nil, fmt.Errorf("encode json: %w", err)
			}
			return msg.WithPayload(out, message.FormatJSON), nil
		})
}

// NewJSONToXML creates a unit that converts a JSON payload to XML. A
// single-key top-level object supplies the root element name; anything else
// is wrapped in a <root> element.
func NewJSONToXML(name string) Unit {
	return NewUnit(name, message.FormatJSON, message.FormatXML,
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			var data any
			if err := json.Unmarshal(msg.Payload(), &data); err != nil {
				return nil, fmt.Errorf("decode json: %w", err)
			}

			rootName := "root"
			rootValue := data
			if obj, ok := data.(map[string]any); ok && len(obj) == 1 {
				for k, v := range obj {
					rootName, rootValue = k, v
				}
			}

			var sb strings.Builder
			if err := encodeXML(&sb, rootName, rootValue); err != nil {
				return nil, fmt.Errorf("encode xml: %w", err)
			}
			return msg.WithPayload([]byte(sb.String()), message.FormatXML), nil
		})
}

// decodeXML parses an XML document into the JSON-ready representation,
// returning the root element name and its value.
func decodeXML(payload []byte) (string, any, error) {
	dec := xml.NewDecoder(strings.NewReader(string(payload)))
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return "", nil, fmt.Errorf("no root element")
			}
			return "", nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			value, err := decodeElement(dec, start)
			if err != nil {
				return "", nil, err
			}
			return start.Name.Local, value, nil
		}
	}
}

// decodeElement consumes an element's content up to its end tag.
func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	node := make(map[string]any)
	for _, attr := range start.Attr {
		node[attrPrefix+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			appendChild(node, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if len(node) == 0 {
				// Leaf element: collapse to its text content.
				return trimmed, nil
			}
			if trimmed != "" {
				node[textKey] = trimmed
			}
			return node, nil
		}
	}
}

// appendChild adds a child value, promoting repeated tags to arrays.
func appendChild(node map[string]any, tag string, child any) {
	existing, ok := node[tag]
	if !ok {
		node[tag] = child
		return
	}
	if list, ok := existing.([]any); ok {
		node[tag] = append(list, child)
		return
	}
	node[tag] = []any{existing, child}
}

// encodeXML writes a value as an XML element. Map keys are emitted in
// sorted order so output is deterministic.
func encodeXML(sb *strings.Builder, tag string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return encodeXMLElement(sb, tag, v)
	case []any:
		for _, item := range v {
			if err := encodeXML(sb, tag, item); err != nil {
				return err
			}
		}
		return nil
	case nil:
		sb.WriteString("<" + tag + "/>")
		return nil
	default:
		sb.WriteString("<" + tag + ">")
		if err := xml.EscapeText(sb, []byte(fmt.Sprintf("%v", v))); err != nil {
			return err
		}
		sb.WriteString("</" + tag + ">")
		return nil
	}
}

// encodeXMLElement writes a map as an element with attributes and children.
func encodeXMLElement(sb *strings.Builder, tag string, node map[string]any) error {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("<" + tag)
	for _, k := range keys {
		if strings.HasPrefix(k, attrPrefix) {
			sb.WriteString(fmt.Sprintf(" %s=%q", strings.TrimPrefix(k, attrPrefix), fmt.Sprintf("%v", node[k])))
		}
	}
	sb.WriteString(">")

	for _, k := range keys {
		if strings.HasPrefix(k, attrPrefix) {
			continue
		}
		if k == textKey {
			if err := xml.EscapeText(sb, []byte(fmt.Sprintf("%v", node[k]))); err != nil {
				return err
			}
			continue
		}
		if err := encodeXML(sb, k, node[k]); err != nil {
			return err
		}
	}

	sb.WriteString("</" + tag + ">")
	return nil
}
