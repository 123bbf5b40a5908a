package importmap

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalid is returned when an import map fails structural validation.
var ErrInvalid = errors.New("invalid import map")

const schemaURL = "https://esbuild-jspm.micromachine.dev/importmap.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "imports": {
      "type": "object",
      "propertyNames": { "minLength": 1 },
      "additionalProperties": { "type": "string", "minLength": 1 }
    },
    "scopes": {
      "type": "object",
      "propertyNames": { "minLength": 1 },
      "additionalProperties": {
        "type": "object",
        "propertyNames": { "minLength": 1 },
        "additionalProperties": { "type": "string", "minLength": 1 }
      }
    },
    "integrity": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    }
  }
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal import map schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	return compiler.Compile(schemaURL)
})

// Validate checks raw JSON against the import map schema.
func Validate(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
