package comfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/comfypod/comfypod/pkg/observability"
	"github.com/comfypod/comfypod/pkg/workflow"
)

func testGraph(t *testing.T) workflow.Graph {
	t.Helper()
	g, err := workflow.Parse([]byte(`{"1": {"class_type": "KSampler", "inputs": {"seed": 1}}}`))
	if err != nil {
		t.Fatalf("parse test graph: %v", err)
	}
	return g
}

func TestQueuePrompt(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Prompt   map[string]json.RawMessage `json:"prompt"`
			ClientID string                     `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding prompt body: %v", err)
		}
		gotClientID = req.ClientID
		if _, ok := req.Prompt["1"]; !ok {
			t.Error("workflow graph missing from prompt payload")
		}
		json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-123", "number": 1})
	}))
	defer srv.Close()

	c := New(srv.URL, WithClientID("client-a"))
	id, err := c.QueuePrompt(context.Background(), testGraph(t))
	if err != nil {
		t.Fatalf("QueuePrompt: %v", err)
	}
	if id != "p-123" {
		t.Errorf("prompt id = %q", id)
	}
	if gotClientID != "client-a" {
		t.Errorf("client id = %q", gotClientID)
	}
}

func TestQueuePromptRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs"}, "node_errors": {}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.QueuePrompt(context.Background(), testGraph(t))
	if err == nil {
		t.Fatal("expected rejection error")
	}
	perr, ok := err.(*PromptError)
	if !ok {
		t.Fatalf("expected *PromptError, got %T: %v", err, err)
	}
	if perr.Err.Type != "prompt_no_outputs" {
		t.Errorf("error type = %q", perr.Err.Type)
	}
}

func TestHistoryNotFinished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, found, err := c.History(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if found {
		t.Error("empty history should report not found")
	}
}

func TestWaitForPrompt(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"p-1": {
			"outputs": {"9": {"images": [{"filename": "ComfyUI_00001_.png", "subfolder": "", "type": "output"}]}},
			"status": {"status_str": "success", "completed": true, "messages": []}
		}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	entry, err := c.WaitForPrompt(context.Background(), "p-1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForPrompt: %v", err)
	}
	if entry.Failed() {
		t.Error("entry should not be failed")
	}
	images := entry.Images()
	if len(images) != 1 || images[0].Filename != "ComfyUI_00001_.png" {
		t.Errorf("images = %+v", images)
	}
	if polls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestWaitForPromptCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := New(srv.URL)
	_, err := c.WaitForPrompt(ctx, "p-1", time.Millisecond)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"system": {"os": "posix"}, "devices": []}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.WaitReady(context.Background(), time.Second, time.Millisecond); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens there
	err := c.WaitReady(context.Background(), 20*time.Millisecond, 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filename") != "a.png" || q.Get("type") != "output" || q.Get("subfolder") != "job_x" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.View(context.Background(), ImageRef{Filename: "a.png", Subfolder: "job_x", Type: "output"})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestHistoryErrorMessage(t *testing.T) {
	raw := []byte(`{
		"outputs": {},
		"status": {
			"status_str": "error",
			"completed": false,
			"messages": [
				["execution_start", {"prompt_id": "p-1"}],
				["execution_error", {"node_id": "4", "node_type": "CheckpointLoaderSimple", "exception_message": "model not found"}]
			]
		}
	}`)
	var entry HistoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !entry.Failed() {
		t.Error("entry should be failed")
	}
	if got := entry.ErrorMessage(); got != "CheckpointLoaderSimple: model not found" {
		t.Errorf("ErrorMessage = %q", got)
	}
}

func TestObjectInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/object_info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"KSampler": {"input": {}}, "CLIPTextEncode": {"input": {}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	info, err := c.ObjectInfo(context.Background())
	if err != nil {
		t.Fatalf("ObjectInfo: %v", err)
	}
	if len(info) != 2 {
		t.Errorf("node catalog has %d classes, want 2", len(info))
	}
	if _, ok := info["KSampler"]; !ok {
		t.Error("node catalog missing KSampler")
	}
}

func TestEngineCallsCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/prompt":
			w.Write([]byte(`{"prompt_id": "p-77"}`))
		case strings.HasPrefix(r.URL.Path, "/history/"):
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)

	promptBefore := engineCounter(t, "/prompt", "200")
	if _, err := c.QueuePrompt(context.Background(), testGraph(t)); err != nil {
		t.Fatalf("QueuePrompt: %v", err)
	}
	if delta := engineCounter(t, "/prompt", "200") - promptBefore; delta != 1 {
		t.Errorf("prompt counter delta = %f, want 1", delta)
	}

	// History paths collapse to a single label regardless of prompt id.
	historyBefore := engineCounter(t, "/history", "200")
	if _, _, err := c.History(context.Background(), "p-77"); err != nil {
		t.Fatalf("History: %v", err)
	}
	if delta := engineCounter(t, "/history", "200") - historyBefore; delta != 1 {
		t.Errorf("history counter delta = %f, want 1", delta)
	}
}

// engineCounter reads the engine request counter for the given labels.
func engineCounter(t *testing.T, endpoint, status string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := observability.EngineRequestsTotal.GetMetricWithLabelValues(endpoint, status)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
