package gorm

import (
	"context"
	"database/sql"
	"testing"

	"device-remoting/internal/core/devices"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: gormlog.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func TestDeviceStoreFindByCode(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
		want    string
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT \* FROM "devices" WHERE code = \$1`).
					WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "secret", "enable"}).
						AddRow(3, "D1", "pump", "abc", true))
			},
			want: "pump",
		},
		{
			name: "missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT \* FROM "devices" WHERE code = \$1`).
					WillReturnRows(sqlmock.NewRows([]string{"id", "code"}))
			},
			wantErr: devices.ErrRecordNotFound,
		},
		{
			name: "database error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT \* FROM "devices"`).WillReturnError(sql.ErrConnDone)
			},
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setup(mock)

			d, err := NewDeviceStore(db).FindByCode(context.Background(), "D1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, d.Name)
				assert.Equal(t, uint(3), d.ID)
				assert.True(t, d.Enable)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOnlineStoreDelete(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "onlines" WHERE session_id = \$1`).
		WithArgs("3@10.0.0.1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewOnlineStore(db).Delete(context.Background(), "3@10.0.0.1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineStoreFindMissing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "onlines" WHERE session_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := NewOnlineStore(db).Find(context.Background(), "3@10.0.0.1")
	assert.ErrorIs(t, err, devices.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStoreByChannel(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "releases" WHERE channel = \$1`).
		WithArgs("stable").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "source", "channel"}).
			AddRow(1, "1.2.0", "https://dl/1.2.0", "stable").
			AddRow(2, "1.3.0", "https://dl/1.3.0", "stable"))

	list, err := NewReleaseStore(db).Releases(context.Background(), "D1", "stable")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1.3.0", list[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreSkipsEmptyEventBatch(t *testing.T) {
	db, mock := newMockDB(t)
	require.NoError(t, NewHistoryStore(db).WriteEvents(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
