package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKVKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"online:3@10.0.0.1", "online_3_10.0.0.1"},
		{"plain", "plain"},
		{"a b*c>d", "a_b_c_d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kvKey(tt.in))
	}
}
