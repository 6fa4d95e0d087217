package workflow

import (
	_ "embed"
)

//go:embed default_workflow.json
var defaultWorkflowJSON []byte

// Default returns the built-in text-to-image workflow template. It is
// used when no workflow file is configured, and parses unconditionally.
func Default() Graph {
	g, err := Parse(defaultWorkflowJSON)
	if err != nil {
		panic("embedded default workflow is invalid: " + err.Error())
	}
	return g
}

// LoadOrDefault loads the workflow file at path, or returns the embedded
// default template when path is empty.
func LoadOrDefault(path string) (Graph, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
