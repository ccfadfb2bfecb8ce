package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateName checks a tool name against the function-calling identifier rules.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("%q must match %s", name, namePattern.String())}
	}
	return nil
}

// CompileSchema compiles a tool parameter schema. The root must describe an object.
func CompileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &ValidationError{Field: "parameters", Message: "schema is empty"}
	}
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, &ValidationError{Field: "parameters", Message: "schema must be a JSON object", Cause: err}
	}
	if typ, ok := root["type"]; ok && typ != "object" {
		return nil, &ValidationError{Field: "parameters", Message: fmt.Sprintf("schema type must be \"object\", got %v", typ)}
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, &ValidationError{Field: "parameters", Message: err.Error(), Cause: err}
	}
	return schema, nil
}

// ReflectSchema derives a parameter schema from a Go argument struct. Fields
// without omitempty in their json tag are required.
func ReflectSchema(v any) json.RawMessage {
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", v, err))
	}
	return data
}

// describeSchemaError flattens a validation error into "location: message" lines.
func describeSchemaError(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(leaves)
	return strings.Join(leaves, "; ")
}
