package devices

import "time"

// Identity is the minimum every device-like record provides.
type Identity interface {
	DeviceCode() string
	DeviceName() string
	IsEnabled() bool
}

// Authorizer verifies a presented credential.
type Authorizer interface {
	Identity
	Authorize(presented string, now time.Time, p *SaltPassword) bool
}

// Auditable builds the audit entries written on its behalf.
type Auditable interface {
	NewHistory(action string, success bool, remark, ip string) *History
}

// unknownDevice stands in for a code that has no record, so failed calls
// are still audited.
type unknownDevice struct{ code string }

func (u unknownDevice) NewHistory(action string, success bool, remark, ip string) *History {
	return &History{Code: u.code, Action: action, Success: success, Remark: remark, IP: ip}
}
