package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ashita-ai/kouba/internal/toolerr"
)

// compileSchema turns a tool's input schema into a validator. The argument
// set is closed: properties the tool does not declare are rejected.
func compileSchema(in mcplib.ToolInputSchema) (*gojsonschema.Schema, error) {
	src, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(src, &doc); err != nil {
		return nil, err
	}
	if _, ok := doc["properties"]; !ok {
		doc["properties"] = map[string]any{}
	}
	doc["type"] = "object"
	doc["additionalProperties"] = false
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
}

// ValidateArguments checks args against the entry's input schema and returns
// them as JSON for the handler. A nil map is treated as an empty object and
// an explicit null on an optional argument means "not provided".
func (e *Entry) ValidateArguments(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, toolerr.Validation("arguments are not JSON-encodable: %v", err)
	}

	present := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			present[k] = v
		}
	}
	doc, err := json.Marshal(present)
	if err != nil {
		return nil, toolerr.Validation("arguments are not JSON-encodable: %v", err)
	}

	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, toolerr.Validation("arguments could not be checked: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, describe(re))
		}
		sort.Strings(msgs)
		return nil, toolerr.Validation("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return raw, nil
}

// describe renders one schema violation in terms of the argument it names.
func describe(re gojsonschema.ResultError) string {
	switch re.Type() {
	case "required":
		return fmt.Sprintf("missing required argument %q", re.Details()["property"])
	case "additional_property_not_allowed":
		return fmt.Sprintf("unknown argument %q", re.Details()["property"])
	default:
		return fmt.Sprintf("argument %q: %s", re.Field(), re.Description())
	}
}
