package booru

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"booru-archiver/pkg/utils"
)

// RawRecord is one flattened provider record: JSON object keys or XML
// attributes/leaf elements hoisted into a single flat mapping. Values are
// strings when sourced from XML and the decoded JSON value otherwise, so
// consumers must go through the as* accessors in post.go.
type RawRecord map[string]any

// Shape declares where a provider's records live inside a response body.
// The same declaration covers both wire dialects: for XML it names the wrapper
// and repeated element (<posts><post/></posts>); for JSON it names the key
// holding the record array ("post") inside the response object.
type Shape struct {
	Wrapper string
	Element string
}

// Envelope is the canonical normalized response: an array of flat records plus
// any wrapper-level attributes (limit/offset/count for gelbooru-family APIs).
type Envelope struct {
	Records    []RawRecord
	Attributes map[string]any
	WasXML     bool
}

// DecodeEnvelope classifies body as JSON or XML and normalizes it into an
// Envelope. A body that parses as neither is an error, never an empty success:
// conflating "no data" with "unparseable" hides provider outages.
func DecodeEnvelope(body []byte, shape Shape) (*Envelope, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty body", utils.ErrUnparsableResponse)
	}

	// XML bodies start with '<'; everything else is tried as JSON first.
	if strings.HasPrefix(trimmed, "<") {
		if env, err := decodeXML([]byte(trimmed), shape); err == nil {
			return env, nil
		}
		if env, err := decodeJSON([]byte(trimmed), shape); err == nil {
			return env, nil
		}
	} else {
		if env, err := decodeJSON([]byte(trimmed), shape); err == nil {
			return env, nil
		}
		if env, err := decodeXML([]byte(trimmed), shape); err == nil {
			return env, nil
		}
	}
	return nil, fmt.Errorf("%w: body starts with %q", utils.ErrUnparsableResponse, head(trimmed, 40))
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- JSON dialect ---

func decodeJSON(body []byte, shape Shape) (*Envelope, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}

	env := &Envelope{}
	switch v := decoded.(type) {
	case []any:
		// Danbooru-family: a bare array of record objects.
		env.Records = toRecords(v)
	case map[string]any:
		// Gelbooru-family: {"@attributes": {...}, "post": [...]}. The
		// attribute container is hoisted, the element key yields the records.
		// A single object under the element key is promoted to a one-element
		// array.
		if attrs, ok := v["@attributes"].(map[string]any); ok {
			env.Attributes = attrs
		} else if attrs, ok := v["attributes"].(map[string]any); ok {
			env.Attributes = attrs
		}
		if inner, ok := v[shape.Element]; ok {
			env.Records = promote(inner)
		} else if inner, ok := v[shape.Wrapper]; ok {
			// {"posts": [...]} without a repeated element key.
			env.Records = promote(inner)
		} else if _, ok := v["id"]; ok {
			// The object itself is a single record.
			env.Records = []RawRecord{RawRecord(v)}
		}
	default:
		return nil, fmt.Errorf("unexpected JSON top-level %T", decoded)
	}
	return env, nil
}

// promote normalizes array-or-single-object values to a record slice.
func promote(v any) []RawRecord {
	switch inner := v.(type) {
	case []any:
		return toRecords(inner)
	case map[string]any:
		return []RawRecord{RawRecord(inner)}
	default:
		return nil
	}
}

func toRecords(items []any) []RawRecord {
	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, RawRecord(m))
		}
	}
	return records
}

// --- XML dialect ---

// xmlNode is a generic parsed XML element: attributes, child elements, and
// character data.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func decodeXML(body []byte, shape Shape) (*Envelope, error) {
	var root xmlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, err
	}

	env := &Envelope{WasXML: true}
	if len(root.Attrs) > 0 {
		env.Attributes = make(map[string]any, len(root.Attrs))
		for _, a := range root.Attrs {
			env.Attributes[a.Name.Local] = a.Value
		}
	}

	// Two dialects share one flattening rule. Attribute-style
	// (<posts><post id="1" .../></posts>): each record element carries its
	// fields as XML attributes. Element-style (moebooru/yandere tag dumps and
	// gelbooru comments): each record element carries its fields as leaf child
	// elements. flattenElement hoists both into the same flat mapping.
	var records []RawRecord
	collect := func(n xmlNode) {
		records = append(records, flattenElement(n))
	}

	if root.XMLName.Local == shape.Wrapper {
		for _, child := range root.Children {
			if child.XMLName.Local == shape.Element {
				collect(child)
			}
		}
	} else if root.XMLName.Local == shape.Element {
		// A single record as the document root.
		collect(root)
	}
	env.Records = records
	return env, nil
}

// flattenElement collapses one record element into a flat mapping: attributes
// become keys directly, and child elements without further children become
// keys holding their text content. Nested single-wrapper children are hoisted
// one level so both XML dialects produce structurally identical records.
func flattenElement(n xmlNode) RawRecord {
	record := make(RawRecord, len(n.Attrs)+len(n.Children))
	for _, a := range n.Attrs {
		record[a.Name.Local] = a.Value
	}
	for _, child := range n.Children {
		if len(child.Children) == 0 {
			record[child.XMLName.Local] = strings.TrimSpace(child.Text)
			continue
		}
		// Wrapper child: hoist its leaves, prefer the outer name on conflict.
		for key, value := range flattenElement(child) {
			if _, exists := record[key]; !exists {
				record[key] = value
			}
		}
	}
	return record
}
