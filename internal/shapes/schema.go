package shapes

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed featurecollection.schema.json
var schemaText string

const schemaURL = "featurecollection.schema.json"

var fileSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaText)); err != nil {
		panic(fmt.Sprintf("shapes: add schema resource: %v", err))
	}
	s, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("shapes: compile schema: %v", err))
	}
	return s
}

// validate：v 为 json.Unmarshal 到 any 的结果
func validate(v any) error {
	if err := fileSchema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
