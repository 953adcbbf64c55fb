package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecret(t *testing.T) {
	assert.Equal(t, "", Secret("token", "").Value.String())
	assert.Equal(t, "*****", Secret("token", "short").Value.String())
	assert.Equal(t, "eyJh******", Secret("token", "eyJhbGciOiJIUzI1NiJ9.payload").Value.String())
}

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
}
