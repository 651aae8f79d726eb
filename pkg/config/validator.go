package config

import "fmt"

// Validator validates a configuration value.
type Validator interface {
	Validate(config any) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(config any) error

func (f ValidatorFunc) Validate(config any) error {
	return f(config)
}

// Validate runs validators in order and returns the first failure.
func Validate(config any, validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// Range validates that value lies within [min, max].
func Range(field string, value, min, max float64) Validator {
	return ValidatorFunc(func(any) error {
		if value < min || value > max {
			return fmt.Errorf("%s value %v is out of range [%v, %v]", field, value, min, max)
		}
		return nil
	})
}

func positive(field string, value float64) Validator {
	return ValidatorFunc(func(any) error {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", field, value)
		}
		return nil
	})
}
