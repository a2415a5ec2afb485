package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError reports a model reply that does not match its schema.
type ValidationError struct {
	Schema  string `json:"schema"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("reply does not match %s schema: %s", e.Schema, e.Message)
}

// CreateSchema creates a JSON schema from a Go struct using reflection.
// Fields tagged omitempty and pointer fields are optional and nullable; an `enum` tag
// holds comma-separated allowed string values.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}

		optional := hasOmitEmpty(jsonTag) || isPointer(field.Type)
		fieldSchema := map[string]any{}
		switch {
		case field.Type.Kind() == reflect.Interface:
		case optional:
			fieldSchema["type"] = []string{getJSONType(field.Type), "null"}
		default:
			fieldSchema["type"] = getJSONType(field.Type)
		}
		if field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() != reflect.Interface {
			fieldSchema["items"] = map[string]any{"type": getJSONType(field.Type.Elem())}
		}
		if enum := field.Tag.Get("enum"); enum != "" && !optional {
			fieldSchema["enum"] = strings.Split(enum, ",")
		}
		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}

		properties[fieldName] = fieldSchema

		if !optional {
			required = append(required, fieldName)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Schema is a compiled reply schema.
type Schema struct {
	name string
	sch  *jsonschema.Schema
}

// CompileSchema builds and compiles the schema for structType.
func CompileSchema(name string, structType any) (*Schema, error) {
	raw, err := json.Marshal(CreateSchema(structType))
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &Schema{name: name, sch: sch}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name string, structType any) *Schema {
	s, err := CompileSchema(name, structType)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates raw JSON against the schema and unmarshals it into v.
func (s *Schema) Decode(raw string, v any) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return &ValidationError{Schema: s.name, Message: err.Error()}
	}
	if err := s.sch.Validate(inst); err != nil {
		return &ValidationError{Schema: s.name, Message: err.Error()}
	}
	return json.Unmarshal([]byte(raw), v)
}

// getJSONType returns the JSON schema type for a given Go type.
func getJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getJSONType(t.Elem())
	default:
		return "string"
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// isPointer checks if a type is a pointer.
func isPointer(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr
}
