package devices

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by repositories for missing rows.
var ErrRecordNotFound = errors.New("record not found")

// The stores below are implemented by the persistence adapters.

type DeviceRepository interface {
	FindByCode(ctx context.Context, code string) (*Device, error)
	Save(ctx context.Context, d *Device) error
}

type OnlineRepository interface {
	Find(ctx context.Context, sessionID string) (*Online, error)
	Save(ctx context.Context, o *Online) error
	Delete(ctx context.Context, sessionID string) error
}

type HistoryRepository interface {
	Write(ctx context.Context, h *History) error
}

type EventRepository interface {
	WriteEvents(ctx context.Context, events []*Event) error
}

// ReleaseSource lists the upgrade packages published for a device.
type ReleaseSource interface {
	Releases(ctx context.Context, code, channel string) ([]*Release, error)
}
