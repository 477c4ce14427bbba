package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `my\_check/%`, likePrefix("my_check/"))
	assert.Equal(t, `100\%/%`, likePrefix("100%/"))
	assert.Equal(t, `a\\b%`, likePrefix(`a\b`))
	assert.Equal(t, `%`, likePrefix(""))
}
