package testsuite

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/suite.schema.json
var suiteSchemaJSON []byte

var (
	schemaPrinter = message.NewPrinter(language.English)
	suiteSchema   = mustCompileSchema(suiteSchemaJSON, "suite.schema.json")
)

func mustCompileSchema(raw []byte, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// SchemaError lists every violation found in a suite document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "suite does not match schema: " + strings.Join(e.Violations, "; ")
}

// ValidateSuiteYAML checks raw suite YAML against the embedded schema.
func ValidateSuiteYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse suite YAML: %w", err)
	}
	if doc == nil {
		return &SchemaError{Violations: []string{"/: document is empty"}}
	}

	err := suiteSchema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("failed to validate suite: %w", err)
	}

	var violations []string
	collectViolations(ve, &violations)
	return &SchemaError{Violations: violations}
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		*out = append(*out, fmt.Sprintf("/%s: %s",
			strings.Join(ve.InstanceLocation, "/"),
			ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}
