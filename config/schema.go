package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the structural JSON schema for the configuration document.
// It only constrains types and required top-level fields; cross-field rules
// (uniqueness, overflow, enum consistency) are enforced by Validate() since
// they are beyond what a schema document should own.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "deviceInstance": {"type": "integer", "minimum": 0},
        "deviceName": {"type": "string"},
        "vendorId": {"type": "integer", "minimum": 0}
      }
    },
    "secure-transport": {"type": "object"},
    "legacy-transport": {"type": "object"},
    "event-store": {"type": "object"},
    "cache": {"type": "object"},
    "devices": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "subscriptionId": {"type": "string"},
          "streamName": {"type": "string"},
          "startFrom": {"type": "string", "enum": ["begin", "end", "position"]},
          "objectInstanceOffset": {"type": "integer", "minimum": 0},
          "transport": {"type": "string", "enum": ["jetstream", "longpoll"]},
          "longPollUrl": {"type": "string"}
        }
      }
    },
    "logging": {"type": "object"},
    "health": {"type": "object"}
  }
}`

// ValidateSchema checks raw configuration JSON against the gateway's
// structural schema before it is ever unmarshaled into a Config, so a
// malformed document is rejected with field-level detail rather than a
// generic unmarshal error.
func ValidateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var b strings.Builder
		for _, desc := range result.Errors() {
			fmt.Fprintf(&b, "%s: %s; ", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", strings.TrimSuffix(b.String(), "; "))
	}
	return nil
}
