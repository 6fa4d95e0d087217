package api

import (
	"strings"
	"testing"
)

func strptr(s string) *string    { return &s }
func intptr(i int) *int          { return &i }
func i64ptr(i int64) *int64      { return &i }
func f64ptr(f float64) *float64  { return &f }

func TestValidateInputNil(t *testing.T) {
	if err := ValidateInput(nil, DefaultValidationConfig()); err != nil {
		t.Errorf("nil input should be valid: %v", err)
	}
}

func TestValidateInputEmpty(t *testing.T) {
	if err := ValidateInput(&GenerationInput{}, DefaultValidationConfig()); err != nil {
		t.Errorf("empty input should be valid: %v", err)
	}
}

func TestValidateInputFull(t *testing.T) {
	in := &GenerationInput{
		Positive:       strptr("blue fox"),
		Negative:       strptr("low quality, blurry"),
		Seed:           i64ptr(162),
		Steps:          intptr(4),
		CFG:            f64ptr(3),
		Denoise:        f64ptr(0.8),
		Width:          intptr(512),
		Height:         intptr(512),
		CheckpointName: strptr("cyberrealistic_v40.safetensors"),
	}
	if err := ValidateInput(in, DefaultValidationConfig()); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
}

func TestValidateInputRejections(t *testing.T) {
	cases := []struct {
		name  string
		input *GenerationInput
		param string
	}{
		{"negative seed", &GenerationInput{Seed: i64ptr(-1)}, "seed"},
		{"zero steps", &GenerationInput{Steps: intptr(0)}, "steps"},
		{"too many steps", &GenerationInput{Steps: intptr(151)}, "steps"},
		{"zero cfg", &GenerationInput{CFG: f64ptr(0)}, "cfg"},
		{"negative cfg", &GenerationInput{CFG: f64ptr(-1)}, "cfg"},
		{"zero denoise", &GenerationInput{Denoise: f64ptr(0)}, "denoise"},
		{"denoise above one", &GenerationInput{Denoise: f64ptr(1.1)}, "denoise"},
		{"tiny width", &GenerationInput{Width: intptr(4)}, "width"},
		{"odd width", &GenerationInput{Width: intptr(513)}, "width"},
		{"huge height", &GenerationInput{Height: intptr(8192)}, "height"},
		{"empty checkpoint", &GenerationInput{CheckpointName: strptr("")}, "ckpt_name"},
		{"overlong prompt", &GenerationInput{Positive: strptr(strings.Repeat("x", 10001))}, "positive"},
	}

	for _, c := range cases {
		err := ValidateInput(c.input, DefaultValidationConfig())
		if err == nil {
			t.Errorf("%s: expected validation error", c.name)
			continue
		}
		if err.Param != c.param {
			t.Errorf("%s: expected param %q, got %q", c.name, c.param, err.Param)
		}
		if err.Type != ErrorTypeInvalidRequest {
			t.Errorf("%s: expected invalid_request, got %q", c.name, err.Type)
		}
	}
}

func TestValidationLimitsDisabled(t *testing.T) {
	cfg := ValidationConfig{} // zero limits disable the caps
	in := &GenerationInput{
		Positive: strptr(strings.Repeat("x", 20000)),
		Negative: strptr("blurry"),
		Steps:    intptr(500),
		Width:    intptr(8192),
	}
	if err := ValidateInput(in, cfg); err != nil {
		t.Errorf("caps should be disabled with zero config: %v", err)
	}
}
