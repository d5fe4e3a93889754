// Package popspec loads and validates initial population documents. The
// document format is JSON validated against an embedded schema before any
// of it reaches the engine, so a malformed file fails with a precise
// pointer instead of a half-seeded world.
package popspec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tmesim/internal/sim/engine"
)

//go:embed population.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("population.schema.json", schemaJSON)

// Document is a validated initial population description. FieldUniform
// optionally presets species concentrations in ng/mL across the lattice.
type Document struct {
	Agents       []engine.InitialAgent `json:"agents"`
	FieldUniform map[string]float64    `json:"field_uniform,omitempty"`
}

// Parse validates raw JSON against the schema and decodes it.
func Parse(raw []byte) (Document, error) {
	var doc Document
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return doc, fmt.Errorf("population: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return doc, fmt.Errorf("population: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("population: %w", err)
	}
	return doc, nil
}

// Load reads and parses a population file.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(raw)
}
