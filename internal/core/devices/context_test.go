package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextPoolResets(t *testing.T) {
	c := acquireContext()
	c.Code, c.Token, c.IP = "D1", "tk", "1.2.3.4"
	c.Device = &Device{Code: "D1"}
	c.Set("issued", true)
	releaseContext(c)

	assert.Empty(t, c.Code)
	assert.Empty(t, c.Token)
	assert.Nil(t, c.Device)
	assert.Nil(t, c.Get("issued"))

	var empty DeviceContext
	assert.Nil(t, empty.Get("missing"))
}
