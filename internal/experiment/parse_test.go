package experiment

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dioptra-labs/dioptra-go/internal/experiment/refs"
)

func mustBuild(t *testing.T, source string) *Description {
	t.Helper()
	doc, err := ParseDocument([]byte(source))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	desc, err := doc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return desc
}

func TestBuildFullDescription(t *testing.T) {
	desc := mustBuild(t, `
types:
  matrix:
parameters:
  epochs: 30
  rate:
    type: number
    default: 0.2
  seed:
    type: integer
tasks:
  load:
    plugin: harness.data.load
    inputs:
      - path: string
    outputs:
      data: matrix
  train:
    plugin: harness.model.train
    inputs:
      - data: matrix
      - name: epochs
        type: integer
        required: false
    outputs:
      - model: any
      - history: any
graph:
  load_data:
    load: {path: data.csv}
  fit:
    task: train
    kwargs:
      data: $load_data.data
      epochs: $epochs
`)

	if _, ok := desc.Types["matrix"]; !ok {
		t.Fatalf("types = %v, want matrix declared", desc.Types)
	}

	wantParams := map[string]Parameter{
		"epochs": {Default: 30, HasDefault: true},
		"rate":   {Type: "number", Default: 0.2, HasDefault: true},
		"seed":   {Type: "integer"},
	}
	if !reflect.DeepEqual(desc.Parameters, wantParams) {
		t.Fatalf("parameters = %#v, want %#v", desc.Parameters, wantParams)
	}

	load := desc.Tasks["load"]
	if load.Plugin != "harness.data.load" {
		t.Fatalf("load plugin = %q", load.Plugin)
	}
	wantInputs := []Input{{Name: "path", Type: "string", Required: true}}
	if !reflect.DeepEqual(load.Inputs, wantInputs) {
		t.Fatalf("load inputs = %#v, want %#v", load.Inputs, wantInputs)
	}
	if !reflect.DeepEqual(load.Outputs, []Output{{Name: "data", Type: "matrix"}}) {
		t.Fatalf("load outputs = %#v", load.Outputs)
	}

	train := desc.Tasks["train"]
	wantTrainInputs := []Input{
		{Name: "data", Type: "matrix", Required: true},
		{Name: "epochs", Type: "integer", Required: false},
	}
	if !reflect.DeepEqual(train.Inputs, wantTrainInputs) {
		t.Fatalf("train inputs = %#v, want %#v", train.Inputs, wantTrainInputs)
	}
	if len(train.Outputs) != 2 || train.Outputs[0].Name != "model" || train.Outputs[1].Name != "history" {
		t.Fatalf("train outputs = %#v", train.Outputs)
	}

	if got := desc.Graph.Names(); !reflect.DeepEqual(got, []string{"load_data", "fit"}) {
		t.Fatalf("graph names = %v", got)
	}
	fit, ok := desc.Graph.Step("fit")
	if !ok {
		t.Fatal("step fit missing")
	}
	if fit.Task != "train" {
		t.Fatalf("fit task = %q", fit.Task)
	}
	wantKwargs := refs.Map{
		Keys: []string{"data", "epochs"},
		Values: map[string]refs.Arg{
			"data":   refs.Reference{Name: "load_data.data"},
			"epochs": refs.Reference{Name: "epochs"},
		},
	}
	if !reflect.DeepEqual(fit.Kwargs, wantKwargs) {
		t.Fatalf("fit kwargs = %#v, want %#v", fit.Kwargs, wantKwargs)
	}
}

func TestBuildBareStepForms(t *testing.T) {
	desc := mustBuild(t, `
tasks:
  echo:
    plugin: harness.echo
    inputs:
      - value: any
    outputs:
      value: any
graph:
  positional:
    echo: [hello]
  scalar:
    echo: hello
  keyword:
    echo:
      value: hello
`)

	positional, _ := desc.Graph.Step("positional")
	if !reflect.DeepEqual(positional.Args, []refs.Arg{refs.Literal{Value: "hello"}}) {
		t.Fatalf("positional args = %#v", positional.Args)
	}
	scalar, _ := desc.Graph.Step("scalar")
	if !reflect.DeepEqual(scalar.Args, []refs.Arg{refs.Literal{Value: "hello"}}) {
		t.Fatalf("scalar args = %#v", scalar.Args)
	}
	keyword, _ := desc.Graph.Step("keyword")
	if got := keyword.Kwargs.Values["value"]; !reflect.DeepEqual(got, refs.Literal{Value: "hello"}) {
		t.Fatalf("keyword kwargs = %#v", keyword.Kwargs)
	}
}

func TestBuildBareStepWithExplicitKwargs(t *testing.T) {
	desc := mustBuild(t, `
tasks:
  double:
    plugin: pkg.double
    inputs:
      - x: number
    outputs:
      value: number
graph:
  step1:
    double:
      kwargs:
        x: $n
  step2:
    double:
      args: [$step1.value]
`)
	step1, _ := desc.Graph.Step("step1")
	if got := step1.Kwargs.Values["x"]; !reflect.DeepEqual(got, refs.Reference{Name: "n"}) {
		t.Fatalf("step1 kwargs = %#v", step1.Kwargs)
	}
	step2, _ := desc.Graph.Step("step2")
	if !reflect.DeepEqual(step2.Args, []refs.Arg{refs.Reference{Name: "step1.value"}}) {
		t.Fatalf("step2 args = %#v", step2.Args)
	}
}

func TestBuildDependencyForms(t *testing.T) {
	desc := mustBuild(t, `
tasks:
  noop:
    plugin: harness.noop
graph:
  a:
    noop:
  b:
    noop:
    dependencies: a
  c:
    noop:
    dependencies: [a, b]
`)
	b, _ := desc.Graph.Step("b")
	if !reflect.DeepEqual(b.Dependencies, []string{"a"}) {
		t.Fatalf("b dependencies = %v", b.Dependencies)
	}
	c, _ := desc.Graph.Step("c")
	if !reflect.DeepEqual(c.Dependencies, []string{"a", "b"}) {
		t.Fatalf("c dependencies = %v", c.Dependencies)
	}
}

func TestBuildRejectsSingleComponentPlugin(t *testing.T) {
	doc, err := ParseDocument([]byte(`
tasks:
  bad:
    plugin: noDots
graph:
  s:
    bad:
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	_, err = doc.Build()
	var illegal *IllegalPluginNameError
	if !errors.As(err, &illegal) {
		t.Fatalf("Build error = %v, want IllegalPluginNameError", err)
	}
	if illegal.PluginName != "noDots" {
		t.Fatalf("PluginName = %q", illegal.PluginName)
	}
}

func TestBuildRejectsAmbiguousInvocation(t *testing.T) {
	doc, err := ParseDocument([]byte(`
tasks:
  one:
    plugin: harness.one
  two:
    plugin: harness.two
graph:
  s:
    one:
    two:
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	_, err = doc.Build()
	var missing *MissingTaskPluginNameError
	if !errors.As(err, &missing) {
		t.Fatalf("Build error = %v, want MissingTaskPluginNameError", err)
	}
	if missing.StepName != "s" {
		t.Fatalf("StepName = %q", missing.StepName)
	}
}

func TestParseDocumentRejectsMalformedYAML(t *testing.T) {
	if _, err := ParseDocument([]byte("graph: [unclosed")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPluginComponents(t *testing.T) {
	cases := []struct {
		plugin   string
		pkg      string
		name     string
		function string
	}{
		{"plugin.function", "", "plugin", "function"},
		{"pkg.plugin.function", "pkg", "plugin", "function"},
		{"org.pkg.plugin.function", "org.pkg", "plugin", "function"},
	}
	for _, tc := range cases {
		pkg, name, function := Task{Plugin: tc.plugin}.PluginComponents()
		if pkg != tc.pkg || name != tc.name || function != tc.function {
			t.Errorf("PluginComponents(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.plugin, pkg, name, function, tc.pkg, tc.name, tc.function)
		}
	}
}

func TestDependencyNamesMergesImplicitAndExplicit(t *testing.T) {
	desc := mustBuild(t, `
tasks:
  noop:
    plugin: harness.noop
    inputs:
      - value: any
    outputs:
      value: any
graph:
  first:
    noop: [1]
  second:
    noop: [2]
  third:
    noop: [$first.value]
    dependencies: [second, first]
`)
	third, _ := desc.Graph.Step("third")
	got := third.DependencyNames(desc.Graph)
	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DependencyNames = %v, want %v", got, want)
	}
}

func TestDependencyNamesKeepsUnknownExplicitDeps(t *testing.T) {
	desc := mustBuild(t, `
tasks:
  noop:
    plugin: harness.noop
graph:
  only:
    noop:
    dependencies: [ghost]
`)
	only, _ := desc.Graph.Step("only")
	if got := only.DependencyNames(desc.Graph); !reflect.DeepEqual(got, []string{"ghost"}) {
		t.Fatalf("DependencyNames = %v, want [ghost]", got)
	}
}
