package devices

import (
	"fmt"
	"time"

	"device-remoting/internal/core/command"
)

// Device is the registered identity of a remote endpoint.
// It includes GORM tags for database mapping and JSON tags for API responses.
type Device struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Code       string    `gorm:"uniqueIndex;size:32" json:"code" example:"EDIVRWCLGGPGCW7M"`
	Name       string    `json:"name"`
	Secret     string    `json:"-"`
	Enable     bool      `json:"enable"`
	UUID       string    `json:"uuid,omitempty"`
	Version    string    `json:"version,omitempty" example:"1.4.2"`
	IP         string    `json:"ip,omitempty"`
	Logins     int       `json:"logins"`
	LastLogin  time.Time `json:"last_login"`
	OnlineTime int64     `json:"online_time"` // seconds, accumulated on logout
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (d *Device) DeviceCode() string { return d.Code }
func (d *Device) DeviceName() string { return d.Name }
func (d *Device) IsEnabled() bool    { return d.Enable }

// Authorize checks a presented credential against the stored secret.
// A device without a secret accepts anything; its first login sets one.
func (d *Device) Authorize(presented string, now time.Time, p *SaltPassword) bool {
	if d.Secret == "" {
		return true
	}
	if presented == "" {
		return false
	}
	return presented == d.Secret || p.Verify(d.Secret, presented, now)
}

// NewHistory builds the audit entry for this device.
func (d *Device) NewHistory(action string, success bool, remark, ip string) *History {
	return &History{
		DeviceID: d.ID,
		Code:     d.Code,
		Name:     d.Name,
		Action:   action,
		Success:  success,
		Remark:   remark,
		IP:       ip,
	}
}

// Online is the liveness record of one device connection.
type Online struct {
	SessionID string    `gorm:"primaryKey;size:96" json:"session_id"`
	DeviceID  uint      `gorm:"index" json:"device_id"`
	Code      string    `gorm:"index;size:32" json:"code"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	Token     string    `json:"token,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Pings     int       `json:"pings"`
	Delay     int       `json:"delay"` // ms
	Uptime    int       `json:"uptime"`
	Memory    uint64    `json:"memory"`
	CPU       float64   `json:"cpu"`
	Connected bool      `json:"connected"` // persistent push channel open
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OnlineSessionID derives the online record key from device and remote address.
func OnlineSessionID(deviceID uint, ip string) string {
	return fmt.Sprintf("%d@%s", deviceID, ip)
}

// History is one audit entry.
type History struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  uint      `gorm:"index" json:"device_id"`
	Code      string    `gorm:"index;size:32" json:"code"`
	Name      string    `json:"name"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Remark    string    `json:"remark"`
	IP        string    `json:"ip"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is reported by a device through PostEvents.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	DeviceID  uint      `gorm:"index" json:"-"`
	Code      string    `gorm:"index;size:32" json:"-"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Remark    string    `json:"remark,omitempty"`
	Time      int64     `json:"time"` // unix ms, device clock
	IP        string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// Release describes an upgrade package.
type Release struct {
	ID      uint   `gorm:"primaryKey" json:"-"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Hash    string `json:"hash,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Force   bool   `json:"force"`
	Channel string `gorm:"index" json:"channel,omitempty"`
	Remark  string `json:"remark,omitempty"`
}

type LoginRequest struct {
	Code     string `json:"code"`
	Secret   string `json:"secret"`
	ClientID string `json:"client_id"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	UUID     string `json:"uuid,omitempty"`
	IP       string `json:"ip,omitempty"`
	Time     int64  `json:"time"` // unix ms, device clock
}

type LoginResponse struct {
	Code       string `json:"code,omitempty"`
	Secret     string `json:"secret,omitempty"` // only set when credentials were (re)issued
	Name       string `json:"name"`
	Token      string `json:"token"`
	Expire     int    `json:"expire"`
	Time       int64  `json:"time"`
	ServerTime int64  `json:"server_time"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id,omitempty"`
}

type PingRequest struct {
	Time   int64   `json:"time"` // unix ms, device clock when sent
	Delay  int     `json:"delay"`
	Uptime int     `json:"uptime"`
	Memory uint64  `json:"memory"`
	CPU    float64 `json:"cpu"`
	IP     string  `json:"ip,omitempty"`
}

type PingResponse struct {
	Time       int64            `json:"time"` // echoed from the request
	ServerTime int64            `json:"server_time"`
	Period     int              `json:"period"` // seconds
	Token      string           `json:"token,omitempty"`
	Commands   []*command.Model `json:"commands,omitempty"`
}
