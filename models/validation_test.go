package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validListenerARN    = "arn:aws:elasticloadbalancing:eu-west-1:123456789012:listener/app/web/abc/def"
	validTargetGroupARN = "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/green/222"
)

func validEnv(name string) *Environment {
	return &Environment{
		Name:           name,
		ListenerARN:    validListenerARN,
		TargetGroupARN: validTargetGroupARN,
	}
}

func TestValidateEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		env         *Environment
		expectError string
	}{
		{"valid", validEnv("green"), ""},
		{"empty name", &Environment{ListenerARN: validListenerARN, TargetGroupARN: validTargetGroupARN}, "name is required"},
		{"uppercase name", validEnv("Green"), "DNS-1123"},
		{"name with dots", validEnv("green.env"), "DNS-1123"},
		{"missing listener", &Environment{Name: "green", TargetGroupARN: validTargetGroupARN}, "listener_arn is required"},
		{"malformed arn", &Environment{Name: "green", ListenerARN: "not-an-arn", TargetGroupARN: validTargetGroupARN}, "valid ARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvironment(tt.env)
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateStartShift(t *testing.T) {
	tests := []struct {
		name        string
		req         StartShiftRequest
		expectError string
	}{
		{
			name: "valid gradual",
			req:  StartShiftRequest{Strategy: StrategyGradual, OldEnv: validEnv("blue"), NewEnv: validEnv("green")},
		},
		{
			name: "valid immediate first deployment",
			req:  StartShiftRequest{Strategy: StrategyImmediate, NewEnv: validEnv("green")},
		},
		{
			name:        "unknown strategy",
			req:         StartShiftRequest{Strategy: "big-bang", NewEnv: validEnv("green")},
			expectError: "unknown strategy",
		},
		{
			name:        "missing new env",
			req:         StartShiftRequest{Strategy: StrategyImmediate},
			expectError: "new_env is required",
		},
		{
			name:        "gradual without old env",
			req:         StartShiftRequest{Strategy: StrategyGradual, NewEnv: validEnv("green")},
			expectError: "old_env is required for gradual shifts",
		},
		{
			name:        "canary without old env",
			req:         StartShiftRequest{Strategy: StrategyCanary, NewEnv: validEnv("green")},
			expectError: "old_env is required for canary shifts",
		},
		{
			name: "canary percent out of range",
			req: StartShiftRequest{
				Strategy: StrategyCanary, OldEnv: validEnv("blue"), NewEnv: validEnv("green"),
				CanaryPercent: 150,
			},
			expectError: "between 0 and 100",
		},
		{
			name:        "bad nested environment",
			req:         StartShiftRequest{Strategy: StrategyImmediate, NewEnv: validEnv("Green")},
			expectError: "new_env.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStartShift(&tt.req)
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "name", Message: "name is required"},
		{Field: "port", Message: "must be positive", Value: "-1"},
	}
	msg := errs.Error()
	assert.Contains(t, msg, "multiple validation errors")
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, `(value: "-1")`)

	single := ValidationErrors{{Field: "name", Message: "name is required"}}
	assert.Equal(t, "name: name is required", single.Error())
	assert.Empty(t, ValidationErrors{}.Error())
}

func TestNewValidatorCustomRules(t *testing.T) {
	v := NewValidator()

	type arnField struct {
		ARN string `validate:"aws_arn"`
	}
	assert.NoError(t, v.Struct(arnField{ARN: validListenerARN}))
	assert.Error(t, v.Struct(arnField{ARN: "nope"}))

	type nameField struct {
		Name string `validate:"dns1123"`
	}
	assert.NoError(t, v.Struct(nameField{Name: "green-2"}))
	assert.Error(t, v.Struct(nameField{Name: "Green"}))

	type strategyField struct {
		Strategy string `validate:"shift_strategy"`
	}
	assert.NoError(t, v.Struct(strategyField{Strategy: "canary"}))
	assert.Error(t, v.Struct(strategyField{Strategy: "big-bang"}))
}
