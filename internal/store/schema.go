package store

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/tasks.schema.json
var tasksSchemaJSON string

var tasksSchema = jsonschema.MustCompileString("tasks.schema.json", tasksSchemaJSON)

// validateTaskFile checks raw file content against the task list schema.
func validateTaskFile(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse task file: %w", err)
	}

	if err := tasksSchema.Validate(doc); err != nil {
		return schemaError(err)
	}

	return nil
}

// schemaError flattens a jsonschema validation tree into one error naming
// the first offending location.
func schemaError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	location := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if location == "" {
		location = "(root)"
	}
	return fmt.Errorf("%s: %s", location, leaf.Message)
}
