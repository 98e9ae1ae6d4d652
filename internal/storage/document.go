package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const recordDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["info", "data"],
  "properties": {
    "info": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1}
      }
    },
    "data": {"type": "object"}
  }
}`

var documentSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	documentSchema.once.Do(func() {
		documentSchema.schema, documentSchema.err = jsonschema.CompileString("config_record.json", recordDocumentSchema)
	})
	return documentSchema.schema, documentSchema.err
}

// ValidateDocument checks the stored info and data columns of a record.
// Rows written by other tools are rejected here rather than surfacing as
// per-variable resolution failures.
func ValidateDocument(info, data []byte) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}
	var doc struct {
		Info json.RawMessage `json:"info"`
		Data json.RawMessage `json:"data"`
	}
	doc.Info, doc.Data = info, data
	if len(doc.Info) == 0 {
		doc.Info = json.RawMessage(`{}`)
	}
	if len(doc.Data) == 0 {
		doc.Data = json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
