package gorm

import (
	"context"
	"errors"

	"device-remoting/internal/core/devices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStore persists devices.
type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

func (s *DeviceStore) FindByCode(ctx context.Context, code string) (*devices.Device, error) {
	var d devices.Device
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, devices.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) Save(ctx context.Context, d *devices.Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// OnlineStore persists online records; it is usually wrapped by a cache.
type OnlineStore struct{ db *gorm.DB }

func NewOnlineStore(db *gorm.DB) *OnlineStore { return &OnlineStore{db: db} }

func (s *OnlineStore) Find(ctx context.Context, sessionID string) (*devices.Online, error) {
	var o devices.Online
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, devices.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *OnlineStore) Save(ctx context.Context, o *devices.Online) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(o).Error
}

func (s *OnlineStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&devices.Online{}).Error
}

// HistoryStore appends audit entries and device events.
type HistoryStore struct{ db *gorm.DB }

func NewHistoryStore(db *gorm.DB) *HistoryStore { return &HistoryStore{db: db} }

func (s *HistoryStore) Write(ctx context.Context, h *devices.History) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *HistoryStore) WriteEvents(ctx context.Context, events []*devices.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(events, 100).Error
}

// ReleaseStore lists published upgrade packages.
type ReleaseStore struct{ db *gorm.DB }

func NewReleaseStore(db *gorm.DB) *ReleaseStore { return &ReleaseStore{db: db} }

func (s *ReleaseStore) Releases(ctx context.Context, _ string, channel string) ([]*devices.Release, error) {
	var list []*devices.Release
	err := s.db.WithContext(ctx).Where("channel = ?", channel).Find(&list).Error
	return list, err
}
