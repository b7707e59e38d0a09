package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgram_Symbol(t *testing.T) {
	tests := []struct {
		prog Program
		want string
	}{
		{Program{ID: 42, Name: "xdp_pass"}, "42:xdp_pass"},
		{Program{ID: 7}, "7:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.prog.Symbol())
	}
}
