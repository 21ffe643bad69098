// Pricing file loading. The file is a yaml mapping of model id to rates:
//
//	models:
//	  claude-sonnet-4-5: {input: 3, output: 15, cache_read: 0.3, cache_write: 3.75}
//	  gpt-4o:            {input: 2.5, output: 10}
//
// Document order is preserved because it decides prefix-match precedence.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultKeys and defaultRates seed the table when no pricing file is
// configured. Specific (dated) ids come before broad family prefixes so the
// first prefix match is the narrow one.
var defaultKeys = []string{
	"claude-opus-4",
	"claude-sonnet-4",
	"claude-haiku-4",
	"claude-3-5-sonnet",
	"claude-3-5-haiku",
	"claude-opus",
	"claude-sonnet",
	"claude-haiku",
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4.1-mini",
	"gpt-4.1",
	"o3-mini",
	"o3",
}

var defaultRates = map[string]Rates{
	"claude-opus-4":     {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-sonnet-4":   {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-haiku-4":    {Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
	"claude-3-5-sonnet": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-3-5-haiku":  {Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
	"claude-opus":       {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-sonnet":     {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-haiku":      {Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.6, CacheRead: 0.075},
	"gpt-4o":            {Input: 2.5, Output: 10, CacheRead: 1.25},
	"gpt-4.1-mini":      {Input: 0.4, Output: 1.6, CacheRead: 0.1},
	"gpt-4.1":           {Input: 2, Output: 8, CacheRead: 0.5},
	"o3-mini":           {Input: 1.1, Output: 4.4, CacheRead: 0.55},
	"o3":                {Input: 2, Output: 8, CacheRead: 0.5},
}

// DefaultTable returns the built-in pricing table.
func DefaultTable() *Table {
	return NewTable(defaultKeys, defaultRates)
}

// LoadFile parses a pricing yaml file into a table, preserving document order.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	if len(doc.Content) == 0 {
		return NewTable(nil, nil), nil
	}

	root := doc.Content[0]
	models := mappingValue(root, "models")
	if models == nil {
		// Allow a bare top-level mapping of model -> rates as well.
		models = root
	}
	if models.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pricing file: models must be a mapping")
	}

	keys := make([]string, 0, len(models.Content)/2)
	rates := make(map[string]Rates, len(models.Content)/2)
	for i := 0; i+1 < len(models.Content); i += 2 {
		keyNode, valNode := models.Content[i], models.Content[i+1]
		var r Rates
		if err := valNode.Decode(&r); err != nil {
			return nil, fmt.Errorf("pricing for %q: %w", keyNode.Value, err)
		}
		if r.Input < 0 || r.Output < 0 || r.CacheRead < 0 || r.CacheWrite < 0 {
			return nil, fmt.Errorf("pricing for %q: rates must be >= 0", keyNode.Value)
		}
		keys = append(keys, keyNode.Value)
		rates[keyNode.Value] = r
	}
	return NewTable(keys, rates), nil
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
