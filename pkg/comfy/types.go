package comfy

import (
	"encoding/json"
	"fmt"
)

// ImageRef locates an image on the ComfyUI server, as reported in history
// outputs and websocket "executed" messages. Type is the ComfyUI folder
// kind: "output", "temp", or "input".
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput holds the outputs a single node produced.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// HistoryStatus is the status block of a history entry.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// HistoryEntry is a finished prompt as reported by /history/{prompt_id}.
// ComfyUI records an entry only once execution has stopped, so presence
// in history means the prompt is done (successfully or not).
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// Failed reports whether the entry records a failed execution.
func (e *HistoryEntry) Failed() bool {
	return e.Status.StatusStr == "error"
}

// Images collects every output image across all nodes.
func (e *HistoryEntry) Images() []ImageRef {
	var refs []ImageRef
	for _, out := range e.Outputs {
		refs = append(refs, out.Images...)
	}
	return refs
}

// ErrorMessage extracts the execution error message from the entry's
// status messages. Messages are two-element arrays of [name, payload];
// the "execution_error" payload carries the node and exception details.
func (e *HistoryEntry) ErrorMessage() string {
	for _, raw := range e.Status.Messages {
		var msg []json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(msg[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var payload struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &payload); err != nil {
			continue
		}
		if payload.NodeType != "" {
			return fmt.Sprintf("%s: %s", payload.NodeType, payload.ExceptionMessage)
		}
		return payload.ExceptionMessage
	}
	if e.Failed() {
		return "execution failed"
	}
	return ""
}

// SystemStats is the response of /system_stats. Only the fields the
// worker reports onward are decoded.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		ComfyUIVersion string `json:"comfyui_version"`
		PythonVersion  string `json:"python_version"`
	} `json:"system"`
	Devices []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		VRAMTotal int64  `json:"vram_total"`
		VRAMFree  int64  `json:"vram_free"`
	} `json:"devices"`
}

// PromptError is the structured rejection body of POST /prompt.
type PromptError struct {
	Err struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// Error implements the error interface.
func (p *PromptError) Error() string {
	if p.Err.Details != "" {
		return fmt.Sprintf("prompt rejected: %s (%s)", p.Err.Message, p.Err.Details)
	}
	return "prompt rejected: " + p.Err.Message
}
