package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// LoadTable reads fixture rows from a YAML or JSON file. The document must
// be a list of rows. Every scalar cell is kept as text so the normalizer
// decides its type.
func LoadTable(fs afero.Fs, path string) ([]Value, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture table %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLTable(data)
	case ".json":
		return parseJSONTable(data)
	default:
		return nil, fmt.Errorf("unsupported fixture table format: %s", path)
	}
}

func parseJSONTable(data []byte) ([]Value, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse JSON fixture table: invalid document")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("fixture table must be a list of rows")
	}
	rows := make([]Value, 0)
	doc.ForEach(func(_, row gjson.Result) bool {
		rows = append(rows, textFromResult(row))
		return true
	})
	return rows, nil
}

// textFromResult is fromResult with every scalar turned into its raw text.
func textFromResult(r gjson.Result) Value {
	switch {
	case r.Type == gjson.Null:
		return Null()
	case r.Type == gjson.String:
		return Text(r.Str)
	case r.IsArray():
		items := make([]Value, 0)
		r.ForEach(func(_, item gjson.Result) bool {
			items = append(items, textFromResult(item))
			return true
		})
		return List(items...)
	case r.IsObject():
		fields := make([]Field, 0)
		r.ForEach(func(key, item gjson.Result) bool {
			fields = append(fields, F(key.String(), textFromResult(item)))
			return true
		})
		return Map(fields...)
	default:
		return Text(r.Raw)
	}
}

func parseYAMLTable(data []byte) ([]Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML fixture table: %w", err)
	}
	if len(doc.Content) == 0 {
		return []Value{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("fixture table must be a list of rows")
	}
	rows := make([]Value, 0, len(root.Content))
	for _, row := range root.Content {
		rows = append(rows, textFromNode(row))
	}
	return rows, nil
}

func textFromNode(node *yaml.Node) Value {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null()
		}
		return textFromNode(node.Content[0])
	case yaml.AliasNode:
		return textFromNode(node.Alias)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, item := range node.Content {
			items = append(items, textFromNode(item))
		}
		return List(items...)
	case yaml.MappingNode:
		fields := make([]Field, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			fields = append(fields, F(node.Content[i].Value, textFromNode(node.Content[i+1])))
		}
		return Map(fields...)
	default:
		if node.ShortTag() == "!!null" {
			return Null()
		}
		return Text(node.Value)
	}
}

// PrepareTable prepares every row. The first unusable row aborts the table.
func (n *Normalizer) PrepareTable(ctx context.Context, rows []Value) ([]Value, error) {
	out := make([]Value, len(rows))
	for i, row := range rows {
		prepared, err := n.Prepare(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = prepared
	}
	return out, nil
}
