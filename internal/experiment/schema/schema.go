// Package schema validates a parsed experiment description against the
// experiment-description grammar and renders raw validation errors as
// one-line issues with a domain-specific location description.
package schema

import (
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/dioptra-labs/dioptra-go/internal/experiment"
	"github.com/dioptra-labs/dioptra-go/internal/experiment/graph"
)

// Issue is one validation finding. Execution must not start while any exist.
type Issue struct {
	Severity string
	Kind     string
	Message  string
}

const (
	SeverityError = "error"

	KindSchema = "schema"
	KindGraph  = "graph"
)

// Validate checks the raw experiment description document against the
// grammar. It never panics and never fails outright: malformed input simply
// yields issues. An empty result means the document is structurally valid.
// The result is sorted so that validating the same document twice yields
// the identical list.
func Validate(doc map[string]any) []Issue {
	if doc == nil {
		return []Issue{{
			Severity: SeverityError,
			Kind:     KindSchema,
			Message:  "experiment description is empty in " + locationRoot,
		}}
	}

	err := descriptionSchema().VisitJSON(doc, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var issues []Issue
	appendIssue := func(raw error) {
		if schemaErr, ok := raw.(*openapi3.SchemaError); ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Kind:     KindSchema,
				Message:  fmt.Sprintf("%s in %s", reason(schemaErr), describeLocation(schemaErr.JSONPointer())),
			})
			return
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Kind:     KindSchema,
			Message:  fmt.Sprintf("%s in %s", raw.Error(), locationRoot),
		})
	}

	if multi, ok := err.(openapi3.MultiError); ok {
		for _, raw := range multi {
			appendIssue(raw)
		}
	} else {
		appendIssue(err)
	}

	// The underlying validator walks object properties in map order; sort
	// so repeated validation is reproducible.
	sort.Slice(issues, func(i, j int) bool { return issues[i].Message < issues[j].Message })
	return issues
}

// ValidateAll runs the schema check and, when it passes, builds the typed
// description and runs the graph analyzer, converting structural graph
// failures into issues. This is the full pre-execution batch: an empty
// result means the experiment is safe to sort and run.
func ValidateAll(doc *experiment.Document) []Issue {
	if doc == nil {
		return Validate(nil)
	}
	issues := Validate(doc.Raw)
	if len(issues) > 0 {
		return issues
	}

	desc, err := doc.Build()
	if err != nil {
		return []Issue{{Severity: SeverityError, Kind: KindSchema, Message: err.Error()}}
	}
	if _, err := graph.SortedSteps(desc.Graph); err != nil {
		return []Issue{{Severity: SeverityError, Kind: KindGraph, Message: err.Error()}}
	}
	return nil
}

func reason(err *openapi3.SchemaError) string {
	if err.Reason != "" {
		return err.Reason
	}
	return err.Error()
}

// descriptionSchema builds the JSON-Schema-equivalent grammar for an
// experiment description document.
func descriptionSchema() *openapi3.Schema {
	anyValue := openapi3.NewSchema()

	parameterLong := openapi3.NewObjectSchema().
		WithProperty("type", openapi3.NewStringSchema()).
		WithProperty("default", anyValue)

	inputEntry := openapi3.NewObjectSchema()
	inputEntry.MinProps = 1

	outputEntry := openapi3.NewObjectSchema()
	outputEntry.MinProps = 1
	outputEntry.MaxProps = ptr(uint64(1))

	outputList := openapi3.NewArraySchema()
	outputList.Items = openapi3.NewSchemaRef("", outputEntry)

	outputs := openapi3.NewSchema()
	outputs.OneOf = openapi3.SchemaRefs{
		openapi3.NewSchemaRef("", outputEntry),
		openapi3.NewSchemaRef("", outputList),
	}

	inputList := openapi3.NewArraySchema()
	inputList.Items = openapi3.NewSchemaRef("", inputEntry)

	task := openapi3.NewObjectSchema().
		WithProperty("plugin", openapi3.NewStringSchema()).
		WithProperty("inputs", inputList).
		WithProperty("outputs", outputs)
	task.Required = []string{"plugin"}

	tasks := openapi3.NewObjectSchema()
	tasks.MinProps = 1
	tasks.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", task),
	}

	dependencyList := openapi3.NewArraySchema()
	dependencyList.Items = openapi3.NewSchemaRef("", openapi3.NewStringSchema())

	dependencies := openapi3.NewSchema()
	dependencies.OneOf = openapi3.SchemaRefs{
		openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
		openapi3.NewSchemaRef("", dependencyList),
	}

	step := openapi3.NewObjectSchema().
		WithProperty("dependencies", dependencies)
	step.MinProps = 1
	step.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", anyValue),
	}

	graphSection := openapi3.NewObjectSchema()
	graphSection.MinProps = 1
	graphSection.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", step),
	}

	types := openapi3.NewObjectSchema()
	types.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", anyValue),
	}

	parameterValue := openapi3.NewSchema()
	parameterValue.AnyOf = openapi3.SchemaRefs{
		openapi3.NewSchemaRef("", parameterLong),
		openapi3.NewSchemaRef("", anyValue),
	}

	parameters := openapi3.NewObjectSchema()
	parameters.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", parameterValue),
	}

	root := openapi3.NewObjectSchema().
		WithProperty("types", types).
		WithProperty("parameters", parameters).
		WithProperty("tasks", tasks).
		WithProperty("graph", graphSection)
	root.Required = []string{"tasks", "graph"}
	return root
}

func ptr[T any](v T) *T { return &v }
