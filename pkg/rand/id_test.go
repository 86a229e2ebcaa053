package rand

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID16(t *testing.T) {
	id := ID16()
	assert.Regexp(t, regexp.MustCompile(`^[A-Z2-7]{16}$`), id)
	assert.NotEqual(t, id, ID16())
}

func TestSecret(t *testing.T) {
	s := Secret()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), s)
	assert.NotEqual(t, s, Secret())
}
