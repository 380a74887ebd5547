// Package schema defines the canonical flow schema and normalizes
// extractor output onto it.
package schema

import "github.com/rsclarke/flowtriage/internal/flow"

// Label is the canonical name of the ground-truth label column.
const Label = "Label"

// Categorical lists the features that bypass dimensionality reduction.
// They are always the last features of the model input, in this order.
var Categorical = []string{"FIN Flag Count", "PSH Flag Count"}

// Mapping maps an extractor header to a canonical field name.
type Mapping map[string]string

// DefaultMapping returns the extractor header mapping. Every canonical
// field has exactly one extractor spelling.
func DefaultMapping() Mapping {
	m := make(Mapping, len(fields))
	for _, f := range fields {
		m[f.Source] = f.Name
	}
	return m
}

// Fields returns a copy of the canonical fields in order.
func Fields() []Field {
	return append([]Field(nil), fields...)
}

// Names returns the canonical field names in order.
func Names() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// IsCanonical reports whether name is a canonical field name.
func IsCanonical(name string) bool {
	_, ok := lookup[name]
	return ok
}

// FieldByName returns the canonical field with the given name.
func FieldByName(name string) (Field, bool) {
	i, ok := lookup[name]
	if !ok {
		return Field{}, false
	}
	return fields[i], true
}

// FeatureNames returns the model input layout: every canonical numeric
// field except the categorical ones in canonical order, followed by the
// categorical fields.
func FeatureNames() []string {
	cat := make(map[string]bool, len(Categorical))
	for _, c := range Categorical {
		cat[c] = true
	}
	var out []string
	for _, f := range fields {
		if f.Kind != flow.Numeric || cat[f.Name] {
			continue
		}
		out = append(out, f.Name)
	}
	return append(out, Categorical...)
}

// FeatureWidth is the number of model input features.
func FeatureWidth() int { return len(FeatureNames()) }

var lookup = func() map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[f.Name] = i
	}
	return m
}()
