package cloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetGroupDimension(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{
			name: "full target group arn",
			arn:  "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/green/50dc6c495c0c9188",
			want: "targetgroup/green/50dc6c495c0c9188",
		},
		{
			name: "already a dimension value",
			arn:  "targetgroup/green/50dc6c495c0c9188",
			want: "targetgroup/green/50dc6c495c0c9188",
		},
		{
			name: "not an arn at all",
			arn:  "green",
			want: "green",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, targetGroupDimension(tt.arn))
		})
	}
}
