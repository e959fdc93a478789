package swagger

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPISource []byte

// Spec returns the service's OpenAPI document as JSON, the form the Swagger
// UI's spec endpoint expects.
func Spec() ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(openAPISource, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse embedded openapi.yaml: %w", err)
	}
	return json.Marshal(doc)
}
