package restclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

var ErrXMLRootRequired = errors.New("xml root element name is required for XML bodies")

// mxj marks attributes with this prefix; decoded maps drop it.
const xmlAttrPrefix = "-"

// ResponseBodyToMap decodes a JSON or XML response body. JSON is selected
// when contentType is application/json; anything else is read as XML and
// the element named xmlRoot is returned. With isList the single child of
// that element is unwrapped.
func ResponseBodyToMap(resp *resty.Response, contentType, xmlRoot string, isList bool) (any, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}
	return BodyToMap(resp.Body(), contentType, xmlRoot, isList)
}

// BodyToMap is ResponseBodyToMap for a raw body.
func BodyToMap(body []byte, contentType, xmlRoot string, isList bool) (any, error) {
	if contentType == RepresentationJSON {
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("failed to parse response body as JSON")
		}
		return gjson.ParseBytes(body).Value(), nil
	}
	if xmlRoot == "" {
		return nil, ErrXMLRootRequired
	}
	doc, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response body as XML: %w", err)
	}
	root, ok := doc[xmlRoot]
	if !ok {
		return nil, fmt.Errorf("xml root element %q not found", xmlRoot)
	}
	root = stripAttrPrefix(root)
	if !isList || root == nil {
		return root, nil
	}
	node, ok := root.(map[string]any)
	if !ok {
		return root, nil
	}
	if len(node) != 1 {
		return nil, fmt.Errorf("list element %q must have exactly one child, got %d", xmlRoot, len(node))
	}
	for _, child := range node {
		root = child
	}
	return root, nil
}

func stripAttrPrefix(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = stripAttrPrefix(child)
		}
		for k := range node {
			name, isAttr := strings.CutPrefix(k, xmlAttrPrefix)
			if !isAttr {
				continue
			}
			if _, clash := node[name]; clash {
				continue
			}
			out[name] = out[k]
			delete(out, k)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = stripAttrPrefix(child)
		}
		return out
	default:
		return v
	}
}

// ModelToRequestBody encodes model as XML when contentType is
// application/xml and as JSON otherwise. For JSON a non-empty rootElement
// selects the entry of model that is encoded.
func ModelToRequestBody(model map[string]any, contentType, rootElement string) (string, error) {
	if contentType == RepresentationXML {
		if len(model) != 1 {
			return "", fmt.Errorf("xml body model must have a single root element, got %d", len(model))
		}
		out, err := mxj.Map(model).Xml()
		if err != nil {
			return "", fmt.Errorf("failed to encode body model as XML: %w", err)
		}
		return string(out), nil
	}
	var body any = model
	if rootElement != "" {
		selected, ok := model[rootElement]
		if !ok {
			return "", fmt.Errorf("root element %q not found in body model", rootElement)
		}
		body = selected
	}
	out, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode body model as JSON: %w", err)
	}
	return string(out), nil
}

// DeleteElementWhenValueNone removes, in place, every map entry whose value
// is nil and every entry left empty after pruning. Lists are walked but
// their items are never removed.
func DeleteElementWhenValueNone(data any) any {
	switch node := data.(type) {
	case []any:
		for _, item := range node {
			DeleteElementWhenValueNone(item)
		}
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if node[k] == nil {
				delete(node, k)
				continue
			}
			DeleteElementWhenValueNone(node[k])
			if isEmpty(node[k]) {
				delete(node, k)
			}
		}
	}
	return data
}

func isEmpty(v any) bool {
	switch node := v.(type) {
	case map[string]any:
		return len(node) == 0
	case []any:
		return len(node) == 0
	case string:
		return node == ""
	default:
		return false
	}
}
