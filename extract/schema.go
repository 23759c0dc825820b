package extract

import (
	"github.com/xeipuuv/gojsonschema"
)

// menuItemSchema is the acceptance contract for a classified menu item: it
// must declare itself a pizza and carry a list of string ingredients. The
// prompt asks the model for exactly this shape; anything else (is_pizza
// false, ingredients missing or mistyped) is skipped, not an error.
const menuItemSchema = `{
	"type": "object",
	"properties": {
		"name":        {"type": "string"},
		"is_pizza":    {"type": "boolean", "const": true},
		"ingredients": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["is_pizza", "ingredients"]
}`

var menuItemLoader = gojsonschema.NewStringLoader(menuItemSchema)

// Accepted reports whether a raw JSON object passes the menu-item schema.
func Accepted(obj []byte) bool {
	result, err := gojsonschema.Validate(menuItemLoader, gojsonschema.NewBytesLoader(obj))
	if err != nil {
		return false
	}
	return result.Valid()
}
