package api

import "fmt"

// ValidationConfig holds configurable limits for input validation. A
// zero or negative limit disables that bound.
type ValidationConfig struct {
	MaxPromptLength int
	MaxSteps        int
	MaxDimension    int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPromptLength: 10000,
		MaxSteps:        150,
		MaxDimension:    4096,
	}
}

// ValidateInput checks a GenerationInput for validity. It returns an
// *APIError describing the first validation failure, or nil if the input
// is valid. A nil input is valid: every parameter has a template default.
func ValidateInput(in *GenerationInput, cfg ValidationConfig) *APIError {
	if in == nil {
		return nil
	}

	if cfg.MaxPromptLength > 0 {
		if in.Positive != nil && len(*in.Positive) > cfg.MaxPromptLength {
			return NewInvalidRequestError("positive",
				fmt.Sprintf("prompt exceeds maximum length of %d", cfg.MaxPromptLength))
		}
		if in.Negative != nil && len(*in.Negative) > cfg.MaxPromptLength {
			return NewInvalidRequestError("negative",
				fmt.Sprintf("prompt exceeds maximum length of %d", cfg.MaxPromptLength))
		}
	}

	if in.Seed != nil && *in.Seed < 0 {
		return NewInvalidRequestError("seed", "seed must not be negative")
	}

	if in.Steps != nil {
		if *in.Steps < 1 {
			return NewInvalidRequestError("steps", "steps must be at least 1")
		}
		if cfg.MaxSteps > 0 && *in.Steps > cfg.MaxSteps {
			return NewInvalidRequestError("steps",
				fmt.Sprintf("steps exceeds maximum of %d", cfg.MaxSteps))
		}
	}

	if in.CFG != nil && *in.CFG <= 0 {
		return NewInvalidRequestError("cfg", "cfg must be positive")
	}

	if in.Denoise != nil {
		if *in.Denoise <= 0 || *in.Denoise > 1 {
			return NewInvalidRequestError("denoise", "denoise must be in (0, 1]")
		}
	}

	if err := validateDimension("width", in.Width, cfg); err != nil {
		return err
	}
	if err := validateDimension("height", in.Height, cfg); err != nil {
		return err
	}

	if in.CheckpointName != nil && *in.CheckpointName == "" {
		return NewInvalidRequestError("ckpt_name", "ckpt_name must not be empty")
	}

	return nil
}

// validateDimension checks a latent image dimension. ComfyUI's latent space
// operates on multiples of 8 pixels.
func validateDimension(param string, v *int, cfg ValidationConfig) *APIError {
	if v == nil {
		return nil
	}
	if *v < 8 {
		return NewInvalidRequestError(param, param+" must be at least 8")
	}
	if *v%8 != 0 {
		return NewInvalidRequestError(param, param+" must be divisible by 8")
	}
	if cfg.MaxDimension > 0 && *v > cfg.MaxDimension {
		return NewInvalidRequestError(param,
			fmt.Sprintf("%s exceeds maximum of %d", param, cfg.MaxDimension))
	}
	return nil
}
