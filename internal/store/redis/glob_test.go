package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"foursight:my_check/", "foursight:my_check/"},
		{"foursight:odd*name/", `foursight:odd\*name/`},
		{"a?b[c]", `a\?b\[c\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeGlob(tt.in), tt.in)
	}
}

func TestNewFromClient_DefaultPrefix(t *testing.T) {
	b := NewFromClient(nil, "")
	assert.Equal(t, defaultPrefix, b.prefix)

	b = NewFromClient(nil, "custom:")
	assert.Equal(t, "custom:", b.prefix)
}
