package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("%s: %s (value: %q)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ves ValidationErrors) Error() string {
	if len(ves) == 0 {
		return ""
	}
	if len(ves) == 1 {
		return ves[0].Error()
	}

	var messages []string
	for _, ve := range ves {
		messages = append(messages, ve.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

var (
	dns1123Regexp = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	arnRegexp     = regexp.MustCompile(`^arn:aws[a-z-]*:[a-z0-9-]+:[a-z0-9-]*:[0-9]*:.+$`)
)

// NewValidator creates a validator with the custom rules used across
// shift and dependency requests.
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterValidation("dns1123", validateDNS1123)
	v.RegisterValidation("aws_arn", validateARN)
	v.RegisterValidation("shift_strategy", validateStrategy)

	return v
}

func validateDNS1123(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return len(name) <= 63 && dns1123Regexp.MatchString(name)
}

func validateARN(fl validator.FieldLevel) bool {
	return arnRegexp.MatchString(fl.Field().String())
}

func validateStrategy(fl validator.FieldLevel) bool {
	switch ShiftStrategy(fl.Field().String()) {
	case StrategyImmediate, StrategyGradual, StrategyCanary:
		return true
	}
	return false
}

// ValidateEnvironment checks an environment referenced by a shift request.
func ValidateEnvironment(env *Environment) error {
	var errs ValidationErrors

	if env.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	} else if !dns1123Regexp.MatchString(env.Name) {
		errs = append(errs, ValidationError{Field: "name", Message: "must be a lowercase DNS-1123 label", Value: env.Name})
	}
	if env.ListenerARN == "" {
		errs = append(errs, ValidationError{Field: "listener_arn", Message: "listener_arn is required"})
	} else if !arnRegexp.MatchString(env.ListenerARN) {
		errs = append(errs, ValidationError{Field: "listener_arn", Message: "must be a valid ARN", Value: env.ListenerARN})
	}
	if env.TargetGroupARN == "" {
		errs = append(errs, ValidationError{Field: "target_group_arn", Message: "target_group_arn is required"})
	} else if !arnRegexp.MatchString(env.TargetGroupARN) {
		errs = append(errs, ValidationError{Field: "target_group_arn", Message: "must be a valid ARN", Value: env.TargetGroupARN})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRollback validates a direct rollback request. Both environments
// must be fully specified because the rollback has no shift to infer them
// from.
func ValidateRollback(req *RollbackRequest) error {
	var errs ValidationErrors

	for _, side := range []struct {
		prefix string
		env    *Environment
	}{
		{"old_env", req.OldEnv},
		{"new_env", req.NewEnv},
	} {
		if side.env == nil {
			errs = append(errs, ValidationError{Field: side.prefix, Message: side.prefix + " is required"})
			continue
		}
		if err := ValidateEnvironment(side.env); err != nil {
			if ves, ok := err.(ValidationErrors); ok {
				for _, ve := range ves {
					ve.Field = side.prefix + "." + ve.Field
					errs = append(errs, ve)
				}
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateStartShift validates a shift request beyond gin's tag binding:
// strategy is known, environments are well formed, and gradual/canary
// shifts have an old environment to shift away from.
func ValidateStartShift(req *StartShiftRequest) error {
	var errs ValidationErrors

	switch req.Strategy {
	case StrategyImmediate, StrategyGradual, StrategyCanary:
	default:
		errs = append(errs, ValidationError{Field: "strategy", Message: "unknown strategy", Value: string(req.Strategy)})
	}

	if req.NewEnv == nil {
		errs = append(errs, ValidationError{Field: "new_env", Message: "new_env is required"})
	} else if err := ValidateEnvironment(req.NewEnv); err != nil {
		if ves, ok := err.(ValidationErrors); ok {
			for _, ve := range ves {
				ve.Field = "new_env." + ve.Field
				errs = append(errs, ve)
			}
		}
	}

	if req.OldEnv != nil {
		if err := ValidateEnvironment(req.OldEnv); err != nil {
			if ves, ok := err.(ValidationErrors); ok {
				for _, ve := range ves {
					ve.Field = "old_env." + ve.Field
					errs = append(errs, ve)
				}
			}
		}
	} else if req.Strategy == StrategyGradual || req.Strategy == StrategyCanary {
		errs = append(errs, ValidationError{Field: "old_env", Message: fmt.Sprintf("old_env is required for %s shifts", req.Strategy)})
	}

	if req.CanaryPercent < 0 || req.CanaryPercent > 100 {
		errs = append(errs, ValidationError{Field: "canary_percent", Message: "must be between 0 and 100", Value: fmt.Sprintf("%d", req.CanaryPercent)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
