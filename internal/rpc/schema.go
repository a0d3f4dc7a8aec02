package rpc

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// compileSchema compiles a method's JSON Schema source at registration time
// so dispatch never pays compilation cost.
func compileSchema(method, source string) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("invalid schema for method %s: %w", method, err)
	}
	return schema, nil
}

// validateParams checks request params against the method's compiled schema.
// Absent params validate as an empty object.
func validateParams(schema *gojsonschema.Schema, params []byte) *Error {
	if schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return InvalidRequest("params are not valid JSON")
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return InvalidRequest(fmt.Sprintf("invalid params: %s", first.String()))
	}
	return nil
}
