package httpx

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const checkoutSchema = `{
  "type": "object",
  "required": ["items", "email"],
  "properties": {
    "email": {"type": "string", "minLength": 3, "maxLength": 254},
    "customerName": {"type": "string", "maxLength": 200},
    "userId": {"type": "string", "maxLength": 128},
    "items": {
      "type": "array",
      "maxItems": 50,
      "items": {
        "type": "object",
        "required": ["id", "type", "quantity", "price"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "name": {"type": "string"},
          "image": {"type": "string"},
          "price": {"type": ["number", "string"]},
          "currency": {"type": "string"},
          "quantity": {"type": "integer"},
          "maxQuantity": {"type": "integer"},
          "selectedDate": {"type": ["string", "null"]},
          "attributes": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    }
  }
}`

var checkoutSchemaLoader = gojsonschema.NewStringLoader(checkoutSchema)

func validateJSONSchema(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}
	return nil
}
