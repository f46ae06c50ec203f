package llm

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects T into a strict JSON schema usable as a structured-output format
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	requireAllProperties(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	return m, nil
}

// requireAllProperties marks every property required and closes every object,
// as strict structured output demands.
func requireAllProperties(node map[string]interface{}) {
	props, ok := node["properties"].(map[string]interface{})
	if !ok {
		return
	}
	required := make([]interface{}, 0, len(props))
	for name, p := range props {
		required = append(required, name)
		if child, ok := p.(map[string]interface{}); ok {
			requireAllProperties(child)
		}
	}
	node["required"] = required
	node["additionalProperties"] = false
}
