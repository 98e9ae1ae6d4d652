package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/Leshaka/lunodog-bot/config.schema.json"

// JSONSchema returns the JSON Schema describing lunodog.yaml. Keys follow
// the yaml tags, and unknown keys are rejected the same way Load rejects
// them.
func JSONSchema() ([]byte, error) {
	return configSchema()
}

var configSchema = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(schemaID)
	schema.Title = "lunodog configuration"
	return json.MarshalIndent(schema, "", "  ")
})
