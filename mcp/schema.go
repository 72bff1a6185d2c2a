package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator compiles and caches JSON Schemas for tool input
// validation (spec §6 "GET /tools -> {tools:[{..., inputSchema}]}").
// Grounded on the teacher's use of santhosh-tekuri/jsonschema for agent
// tool-argument schemas (goa-ai agents/expr).
type SchemaValidator struct {
	mu       sync.Mutex
	compiler *jsonschema.Compiler
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator constructs an empty SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiler: jsonschema.NewCompiler(), compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles schema (a JSON Schema document) under name so later
// Validate calls can reference it by tool name.
func (v *SchemaValidator) Register(name string, schema map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("mcp: marshal schema for %q: %w", name, err)
	}
	resourceURL := "mem://schemas/" + name + ".json"
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("mcp: unmarshal schema for %q: %w", name, err)
	}
	if err := v.compiler.AddResource(resourceURL, doc); err != nil {
		return fmt.Errorf("mcp: add schema resource for %q: %w", name, err)
	}
	compiled, err := v.compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("mcp: compile schema for %q: %w", name, err)
	}
	v.compiled[name] = compiled
	return nil
}

// Validate checks arguments against the schema registered for name. A
// tool with no registered schema validates trivially.
func (v *SchemaValidator) Validate(name string, arguments map[string]any) error {
	v.mu.Lock()
	schema, ok := v.compiled[name]
	v.mu.Unlock()
	if !ok {
		return nil
	}

	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("mcp: marshal arguments for %q: %w", name, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("mcp: unmarshal arguments for %q: %w", name, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("mcp: argument validation failed for %q: %w", name, err)
	}
	return nil
}
