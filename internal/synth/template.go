package synth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"usagesynth/internal/datalog"
	"usagesynth/internal/roles"
)

// UsageArity is the arity of the target element and of the
// correct_usage/incorrect_usage relations.
const UsageArity = 4

// TemplateError reports an invalid usage template.
type TemplateError struct {
	Template string
	Field    string
	Message  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %s: %s", e.Template, e.Field, e.Message)
}

// Template is an ordered sequence of API-element literals. The target
// element's arguments become the arguments of the usage relations.
type Template struct {
	Name     string
	Elements []datalog.Literal
	Target   int
}

// TargetLiteral returns the target element.
func (t Template) TargetLiteral() datalog.Literal { return t.Elements[t.Target] }

// Others returns the non-target elements in template order.
func (t Template) Others() []datalog.Literal {
	out := make([]datalog.Literal, 0, len(t.Elements)-1)
	for i, e := range t.Elements {
		if i != t.Target {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the template against the role catalog.
func (t Template) Validate(mapper *roles.Mapper) error {
	if len(t.Elements) == 0 {
		return &TemplateError{Template: t.Name, Field: "elements", Message: "template has no elements"}
	}
	if t.Target < 0 || t.Target >= len(t.Elements) {
		return &TemplateError{Template: t.Name, Field: "target", Message: fmt.Sprintf("index %d out of range", t.Target)}
	}
	for i, e := range t.Elements {
		field := fmt.Sprintf("elements[%d]", i)
		if !e.IsAtom() || !e.Positive {
			return &TemplateError{Template: t.Name, Field: field, Message: "element must be a positive atom"}
		}
		if !mapper.HasPredicate(e.Pred) {
			return &TemplateError{Template: t.Name, Field: field, Message: mapper.UnknownPredicateError(e.Pred).Error()}
		}
		if mapper.IsComponent(e.Pred) {
			return &TemplateError{Template: t.Name, Field: field, Message: e.Pred + " is a component relation, not an API element"}
		}
	}
	if n := t.TargetLiteral().Arity(); n != UsageArity {
		return &TemplateError{Template: t.Name, Field: "target", Message: fmt.Sprintf("target must have %d arguments, has %d", UsageArity, n)}
	}
	return nil
}

type templateFile struct {
	Templates []templateSpec `yaml:"templates"`
}

type templateSpec struct {
	Name     string   `yaml:"name"`
	Target   int      `yaml:"target"`
	Elements []string `yaml:"elements"`
}

// ParseTemplates decodes a YAML template file:
//
//	templates:
//	  - name: write-then-flush
//	    elements:
//	      - call("java.io.DataOutputStream.writeLong", L1, V, M)
//	      - call("java.io.DataOutputStream.flush", L2, V, M)
func ParseTemplates(data []byte) ([]Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	out := make([]Template, 0, len(f.Templates))
	for i, s := range f.Templates {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("template_%d", i)
		}
		t := Template{Name: name, Target: s.Target}
		for j, text := range s.Elements {
			l, err := datalog.ParseLiteral(text)
			if err != nil {
				return nil, &TemplateError{Template: name, Field: fmt.Sprintf("elements[%d]", j), Message: err.Error()}
			}
			t.Elements = append(t.Elements, l)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadTemplates reads a template file.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates %s: %w", path, err)
	}
	return ParseTemplates(data)
}
