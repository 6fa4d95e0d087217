package workflow

import (
	"encoding/json"
	"testing"

	"github.com/comfypod/comfypod/pkg/api"
)

func strptr(s string) *string   { return &s }
func intptr(i int) *int         { return &i }
func i64ptr(i int64) *int64     { return &i }
func f64ptr(f float64) *float64 { return &f }

func TestApplyFullInput(t *testing.T) {
	g := Default()

	out, err := g.Apply(&api.GenerationInput{
		Positive:       strptr("blue fox"),
		Negative:       strptr("low quality, blurry"),
		Seed:           i64ptr(162),
		Steps:          intptr(4),
		CFG:            f64ptr(3),
		Denoise:        f64ptr(0.8),
		Width:          intptr(768),
		Height:         intptr(512),
		CheckpointName: strptr("cyberrealistic_v40.safetensors"),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ks := out["3"]
	if ks.Inputs["seed"] != int64(162) {
		t.Errorf("seed = %v", ks.Inputs["seed"])
	}
	if ks.Inputs["steps"] != 4 {
		t.Errorf("steps = %v", ks.Inputs["steps"])
	}
	if ks.Inputs["cfg"] != 3.0 {
		t.Errorf("cfg = %v", ks.Inputs["cfg"])
	}
	if ks.Inputs["denoise"] != 0.8 {
		t.Errorf("denoise = %v", ks.Inputs["denoise"])
	}
	if out["4"].Inputs["ckpt_name"] != "cyberrealistic_v40.safetensors" {
		t.Errorf("ckpt_name = %v", out["4"].Inputs["ckpt_name"])
	}
	if out["5"].Inputs["width"] != 768 || out["5"].Inputs["height"] != 512 {
		t.Errorf("latent size = %vx%v", out["5"].Inputs["width"], out["5"].Inputs["height"])
	}
	if out["6"].Inputs["text"] != "blue fox" {
		t.Errorf("positive text = %v", out["6"].Inputs["text"])
	}
	if out["7"].Inputs["text"] != "low quality, blurry" {
		t.Errorf("negative text = %v", out["7"].Inputs["text"])
	}
}

func TestApplyDefaults(t *testing.T) {
	g := Default()
	out, err := g.Apply(&api.GenerationInput{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Absent fields keep the template's values.
	if out["3"].Inputs["steps"] != float64(20) {
		t.Errorf("steps should keep template default, got %v", out["3"].Inputs["steps"])
	}
	if out["6"].Inputs["text"] != "masterpiece, best quality" {
		t.Errorf("positive should keep template default, got %v", out["6"].Inputs["text"])
	}
	if out["5"].Inputs["width"] != float64(512) {
		t.Errorf("width should keep template default, got %v", out["5"].Inputs["width"])
	}
}

func TestApplyDoesNotMutateTemplate(t *testing.T) {
	g := Default()
	before, _ := json.Marshal(g)

	if _, err := g.Apply(&api.GenerationInput{
		Positive: strptr("changed"),
		Steps:    intptr(99),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	after, _ := json.Marshal(g)
	if string(before) != string(after) {
		t.Error("Apply mutated the base template")
	}
}

func TestApplyPromptRoutedByWiring(t *testing.T) {
	// Swap the conditioning links: node 7 is wired as positive, 6 as negative.
	raw := []byte(`{
		"3": {"class_type": "KSampler", "inputs": {"positive": ["7", 0], "negative": ["6", 0], "seed": 1}},
		"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a"}},
		"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "b"}}
	}`)
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := g.Apply(&api.GenerationInput{
		Positive: strptr("POS"),
		Negative: strptr("NEG"),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if out["7"].Inputs["text"] != "POS" {
		t.Errorf("positive should follow wiring to node 7, got %v", out["7"].Inputs["text"])
	}
	if out["6"].Inputs["text"] != "NEG" {
		t.Errorf("negative should follow wiring to node 6, got %v", out["6"].Inputs["text"])
	}
}

func TestApplyNumericLinkIDs(t *testing.T) {
	// Some exporters emit link ids as numbers rather than strings.
	raw := []byte(`{
		"3": {"class_type": "KSampler", "inputs": {"positive": [6, 0], "negative": [7, 0]}},
		"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a"}},
		"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "b"}}
	}`)
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := g.Apply(&api.GenerationInput{Positive: strptr("POS")})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["6"].Inputs["text"] != "POS" {
		t.Errorf("numeric link id not followed, got %v", out["6"].Inputs["text"])
	}
}

func TestApplyWithoutKSampler(t *testing.T) {
	raw := []byte(`{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "keep"}}
	}`)
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := g.Apply(&api.GenerationInput{Positive: strptr("POS")})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// No sampler to trace wiring from: prompt fields are ignored.
	if out["1"].Inputs["text"] != "keep" {
		t.Errorf("text should be untouched without a KSampler, got %v", out["1"].Inputs["text"])
	}
}

func TestApplyLinkToNonTextNode(t *testing.T) {
	// The positive link points at a node that is not a CLIPTextEncode;
	// its inputs must not be clobbered with prompt text.
	raw := []byte(`{
		"3": {"class_type": "KSampler", "inputs": {"positive": ["5", 0]}},
		"5": {"class_type": "ControlNetApply", "inputs": {"strength": 1.0}}
	}`)
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := g.Apply(&api.GenerationInput{Positive: strptr("POS")})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := out["5"].Inputs["text"]; ok {
		t.Error("non-CLIPTextEncode node must not receive prompt text")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	if _, err := Parse([]byte(`{}`)); err == nil {
		t.Error("empty workflow should be rejected")
	}
	if _, err := Parse([]byte(`{"1": {"inputs": {}}}`)); err == nil {
		t.Error("node without class_type should be rejected")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("malformed JSON should be rejected")
	}
}

func TestFirstByClassDeterministic(t *testing.T) {
	raw := []byte(`{
		"10": {"class_type": "KSampler", "inputs": {}},
		"2":  {"class_type": "KSampler", "inputs": {}}
	}`)
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i := 0; i < 20; i++ {
		id, _ := g.FirstByClass(ClassKSampler)
		if id != "2" {
			t.Fatalf("FirstByClass should order numerically, got %q", id)
		}
	}
}
