// Command mock-comfy runs a deterministic stand-in for a ComfyUI server.
// It accepts prompts, simulates sampler progress over the websocket, and
// records history entries with a generated PNG, so the worker can be
// developed and demoed without a GPU.
//
// Configuration:
//
//	MOCK_PORT    - Listen port (default: 8188)
//	MOCK_STEPS   - Simulated sampler steps (default: 20)
//	MOCK_STEP_MS - Milliseconds per step (default: 50)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	port := envInt("MOCK_PORT", 8188)
	steps := envInt("MOCK_STEPS", 20)
	stepMs := envInt("MOCK_STEP_MS", 50)

	srv := newMockServer(steps, time.Duration(stepMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /system_stats", srv.handleSystemStats)
	mux.HandleFunc("POST /prompt", srv.handlePrompt)
	mux.HandleFunc("GET /history/{id}", srv.handleHistory)
	mux.HandleFunc("GET /view", srv.handleView)
	mux.HandleFunc("POST /interrupt", srv.handleInterrupt)
	mux.HandleFunc("GET /ws", srv.handleWS)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock comfyui starting", "port", port, "steps", steps)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock comfyui failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock comfyui shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// historyEntry mirrors the shape ComfyUI records per finished prompt.
type historyEntry struct {
	Outputs map[string]nodeOutput `json:"outputs"`
	Status  historyStatus         `json:"status"`
}

type nodeOutput struct {
	Images []imageRef `json:"images"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
	Messages  []any  `json:"messages"`
}

type mockServer struct {
	steps    int
	stepTime time.Duration
	imgPNG   []byte

	mu        sync.Mutex
	seq       int
	history   map[string]historyEntry
	running   map[string]chan struct{} // prompt id -> interrupt signal
	listeners map[*websocket.Conn]struct{}
}

func newMockServer(steps int, stepTime time.Duration) *mockServer {
	return &mockServer{
		steps:     steps,
		stepTime:  stepTime,
		imgPNG:    renderPNG(),
		history:   make(map[string]historyEntry),
		running:   make(map[string]chan struct{}),
		listeners: make(map[*websocket.Conn]struct{}),
	}
}

// renderPNG produces the one image every "generation" returns.
func renderPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(4 * y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (s *mockServer) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"system": map[string]any{
			"os":              "posix",
			"comfyui_version": "0.3.0-mock",
			"python_version":  "3.11.0",
		},
		"devices": []map[string]any{
			{"name": "mock", "type": "cpu", "vram_total": 0, "vram_free": 0},
		},
	})
}

func (s *mockServer) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   map[string]json.RawMessage `json:"prompt"`
		ClientID string                     `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{
			"error": map[string]any{
				"type":    "invalid_prompt",
				"message": "no prompt in request",
				"details": "",
			},
			"node_errors": map[string]any{},
		})
		return
	}

	promptID := uuid.New().String()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	interrupt := make(chan struct{})
	s.running[promptID] = interrupt
	s.mu.Unlock()

	go s.execute(promptID, seq, interrupt)

	writeJSON(w, map[string]any{"prompt_id": promptID, "number": seq})
}

// execute simulates a sampler run: progress events over the websocket,
// then a history entry with the generated image.
func (s *mockServer) execute(promptID string, seq int, interrupt <-chan struct{}) {
	node := "3"
	s.broadcast("execution_start", map[string]any{"prompt_id": promptID})
	s.broadcast("executing", map[string]any{"node": node, "prompt_id": promptID})

	for step := 1; step <= s.steps; step++ {
		select {
		case <-interrupt:
			s.broadcast("execution_interrupted", map[string]any{"prompt_id": promptID})
			s.finish(promptID, historyEntry{
				Outputs: map[string]nodeOutput{},
				Status:  historyStatus{StatusStr: "error", Completed: false, Messages: []any{}},
			})
			return
		case <-time.After(s.stepTime):
		}
		s.broadcast("progress", map[string]any{
			"value":     step,
			"max":       s.steps,
			"prompt_id": promptID,
			"node":      node,
		})
	}

	filename := fmt.Sprintf("ComfyUI_%05d_.png", seq)
	ref := imageRef{Filename: filename, Type: "output"}

	s.broadcast("executed", map[string]any{
		"node":      "9",
		"prompt_id": promptID,
		"output":    nodeOutput{Images: []imageRef{ref}},
	})
	// node: null marks the end of execution.
	s.broadcast("executing", map[string]any{"node": nil, "prompt_id": promptID})

	s.finish(promptID, historyEntry{
		Outputs: map[string]nodeOutput{"9": {Images: []imageRef{ref}}},
		Status:  historyStatus{StatusStr: "success", Completed: true, Messages: []any{}},
	})
}

func (s *mockServer) finish(promptID string, entry historyEntry) {
	s.mu.Lock()
	s.history[promptID] = entry
	delete(s.running, promptID)
	s.mu.Unlock()
}

func (s *mockServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	entry, ok := s.history[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, map[string]historyEntry{id: entry})
}

func (s *mockServer) handleView(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("filename") == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(s.imgPNG)
}

func (s *mockServer) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	for id, ch := range s.running {
		close(ch)
		delete(s.running, id)
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *mockServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.listeners[conn] = struct{}{}
	s.mu.Unlock()

	// Initial status message, like the real server sends on connect.
	s.send(conn, "status", map[string]any{
		"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}},
	})

	// Drain the connection; clients never send anything meaningful.
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.listeners, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *mockServer) broadcast(msgType string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.listeners {
		s.sendLocked(conn, msgType, data)
	}
}

func (s *mockServer) send(conn *websocket.Conn, msgType string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(conn, msgType, data)
}

func (s *mockServer) sendLocked(conn *websocket.Conn, msgType string, data map[string]any) {
	msg := map[string]any{"type": msgType, "data": data}
	if err := conn.WriteJSON(msg); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
