package devices

import "sync"

// DeviceContext is per-call scratch state. It comes from a pool and is reset
// on release, so nothing may keep a reference to it after the call.
type DeviceContext struct {
	Code     string
	Device   *Device
	Online   *Online
	Token    string
	ClientID string
	IP       string
	Items    map[string]any
}

func (c *DeviceContext) Set(key string, v any) {
	if c.Items == nil {
		c.Items = make(map[string]any)
	}
	c.Items[key] = v
}

func (c *DeviceContext) Get(key string) any { return c.Items[key] }

func (c *DeviceContext) reset() {
	c.Code, c.Token, c.ClientID, c.IP = "", "", "", ""
	c.Device, c.Online = nil, nil
	clear(c.Items)
}

var contextPool = sync.Pool{New: func() any { return new(DeviceContext) }}

func acquireContext() *DeviceContext { return contextPool.Get().(*DeviceContext) }

func releaseContext(c *DeviceContext) {
	c.reset()
	contextPool.Put(c)
}
