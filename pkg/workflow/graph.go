package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Well-known ComfyUI node class types the splice logic targets.
const (
	ClassKSampler         = "KSampler"
	ClassCLIPTextEncode   = "CLIPTextEncode"
	ClassEmptyLatentImage = "EmptyLatentImage"
	ClassCheckpointLoader = "CheckpointLoaderSimple"
	ClassSaveImage        = "SaveImage"
)

// Node is a single node in the API-format workflow graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph is an API-format workflow: node id -> node. Node ids are strings
// on the wire even when numeric.
type Graph map[string]*Node

// Parse decodes an API-format workflow from JSON.
func Parse(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("workflow contains no nodes")
	}
	for id, node := range g {
		if node == nil || node.ClassType == "" {
			return nil, fmt.Errorf("workflow node %q has no class_type", id)
		}
	}
	return g, nil
}

// LoadFile reads and parses an API-format workflow from a JSON file.
func LoadFile(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	return Parse(data)
}

// Clone returns a deep copy of the graph via a JSON round trip, so that
// per-job substitution never mutates the shared template.
func (g Graph) Clone() (Graph, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("cloning workflow: %w", err)
	}
	var out Graph
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cloning workflow: %w", err)
	}
	return out, nil
}

// FirstByClass returns the id and node of the first node with the given
// class type, iterating ids in numeric-then-lexical order so the result
// is deterministic. Returns ("", nil) when no node matches.
func (g Graph) FirstByClass(classType string) (string, *Node) {
	var best string
	for id, node := range g {
		if node.ClassType != classType {
			continue
		}
		if best == "" || lessNodeID(id, best) {
			best = id
		}
	}
	if best == "" {
		return "", nil
	}
	return best, g[best]
}

// EachByClass calls fn for every node with the given class type.
func (g Graph) EachByClass(classType string, fn func(id string, node *Node)) {
	for id, node := range g {
		if node.ClassType == classType {
			fn(id, node)
		}
	}
}

// linkTarget extracts the source node id from a link input value. Link
// values arrive as [id, slot] where id is a string or a number; anything
// else is a widget literal and yields ok=false.
func linkTarget(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 1 {
		return "", false
	}
	switch id := arr[0].(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}

// setInput sets a single input value, creating the inputs map on demand.
func (n *Node) setInput(key string, value any) {
	if n.Inputs == nil {
		n.Inputs = make(map[string]any)
	}
	n.Inputs[key] = value
}

// lessNodeID orders node ids numerically when both parse as integers,
// lexically otherwise.
func lessNodeID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
