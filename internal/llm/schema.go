package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Schema is a restricted JSON schema: objects with typed properties,
// string enumerations, bounded integers, and typed arrays. It covers what
// structured model output needs without pulling in a full validator.
type Schema struct {
	// Name identifies the schema to the provider API. Required on the root.
	Name string

	// Type is one of "object", "string", "integer", "number", "array".
	Type string

	// Description is forwarded to the model as guidance.
	Description string

	// Properties and Required apply when Type is "object".
	Properties map[string]*Schema
	Required   []string

	// Enum restricts a string to a closed set of values.
	Enum []string

	// Minimum and Maximum bound an integer or number (inclusive).
	Minimum *float64
	Maximum *float64

	// Items describes array elements when Type is "array".
	Items *Schema

	// MinItems and MaxItems bound array length (0 = unbounded).
	MinItems int
	MaxItems int
}

// Float is a convenience for building Minimum/Maximum bounds.
func Float(v float64) *float64 {
	return &v
}

// JSONMap renders the schema as a plain map for provider API payloads.
func (s *Schema) JSONMap() map[string]interface{} {
	m := map[string]interface{}{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONMap()
		}
		m["properties"] = props
		// Strict structured output requires additionalProperties: false.
		m["additionalProperties"] = false
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	if len(s.Enum) > 0 {
		enum := make([]interface{}, len(s.Enum))
		for i, v := range s.Enum {
			enum[i] = v
		}
		m["enum"] = enum
	}
	if s.Minimum != nil {
		m["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		m["maximum"] = *s.Maximum
	}
	if s.Items != nil {
		m["items"] = s.Items.JSONMap()
	}
	if s.MinItems > 0 {
		m["minItems"] = s.MinItems
	}
	if s.MaxItems > 0 {
		m["maxItems"] = s.MaxItems
	}
	return m
}

// StrictJSONMap renders the schema for OpenAI strict structured outputs.
// Strict mode rejects schemas whose required list does not cover every
// property, and rejects the numeric and array bound keywords, so required
// is completed from the property set and the bounds are left to Decode.
func (s *Schema) StrictJSONMap() map[string]interface{} {
	m := map[string]interface{}{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		required := make([]string, 0, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.StrictJSONMap()
			required = append(required, name)
		}
		sort.Strings(required)
		m["properties"] = props
		m["required"] = required
		m["additionalProperties"] = false
	}
	if len(s.Enum) > 0 {
		enum := make([]interface{}, len(s.Enum))
		for i, v := range s.Enum {
			enum[i] = v
		}
		m["enum"] = enum
	}
	if s.Items != nil {
		m["items"] = s.Items.StrictJSONMap()
	}
	return m
}

// Decode parses content as JSON and validates it against the schema.
// Markdown code fences are stripped first since models wrap JSON in them
// even when asked not to. Violations wrap ErrSchema; undecodable content
// wraps ErrMalformed.
func (s *Schema) Decode(content string) (map[string]interface{}, error) {
	cleaned := StripFences(content)

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.validateValue(data, "$"); err != nil {
		return nil, err
	}
	return data, nil
}

// StripFences removes surrounding markdown code fences from model output.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func (s *Schema) validateValue(value interface{}, path string) error {
	switch s.Type {
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: %s: expected object", ErrSchema, path)
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("%w: %s: missing required field %q", ErrSchema, path, name)
			}
		}
		for name, v := range obj {
			prop, known := s.Properties[name]
			if !known {
				continue
			}
			if err := prop.validateValue(v, path+"."+name); err != nil {
				return err
			}
		}
		return nil

	case "string":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s: expected string", ErrSchema, path)
		}
		if len(s.Enum) > 0 {
			for _, allowed := range s.Enum {
				if str == allowed {
					return nil
				}
			}
			return fmt.Errorf("%w: %s: %q not in enumeration %v", ErrSchema, path, str, s.Enum)
		}
		return nil

	case "integer":
		num, ok := value.(float64)
		if !ok || num != math.Trunc(num) {
			return fmt.Errorf("%w: %s: expected integer", ErrSchema, path)
		}
		return s.checkBounds(num, path)

	case "number":
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %s: expected number", ErrSchema, path)
		}
		return s.checkBounds(num, path)

	case "array":
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("%w: %s: expected array", ErrSchema, path)
		}
		if s.MinItems > 0 && len(arr) < s.MinItems {
			return fmt.Errorf("%w: %s: expected at least %d items, got %d", ErrSchema, path, s.MinItems, len(arr))
		}
		if s.MaxItems > 0 && len(arr) > s.MaxItems {
			return fmt.Errorf("%w: %s: expected at most %d items, got %d", ErrSchema, path, s.MaxItems, len(arr))
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.validateValue(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %s: unsupported schema type %q", ErrSchema, path, s.Type)
	}
}

func (s *Schema) checkBounds(num float64, path string) error {
	if s.Minimum != nil && num < *s.Minimum {
		return fmt.Errorf("%w: %s: %v below minimum %v", ErrSchema, path, num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		return fmt.Errorf("%w: %s: %v above maximum %v", ErrSchema, path, num, *s.Maximum)
	}
	return nil
}
