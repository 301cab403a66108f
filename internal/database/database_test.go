package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	db, err := Connect("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", PoolConfig{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.True(t, db.Migrator().HasTable(&models.GradingSession{}))
	require.True(t, db.Migrator().HasTable(&models.GradingEntry{}))
	require.True(t, db.Migrator().HasIndex(&models.GradingSession{}, "idx_grading_sessions_submission_version"))
}

func TestMigrateEnforcesVersionUniqueness(t *testing.T) {
	db, err := ConnectSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	first := models.GradingSession{ID: uuid.NewString(), SubmissionID: "sub-1", Version: 1, Status: models.SessionStatusInProgress, Mode: models.GradingModeAuto}
	second := models.GradingSession{ID: uuid.NewString(), SubmissionID: "sub-1", Version: 1, Status: models.SessionStatusInProgress, Mode: models.GradingModeAuto}

	require.NoError(t, db.Omit("Entries").Create(&first).Error)
	err = db.Omit("Entries").Create(&second).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "dsn", PoolConfig{})
	require.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr(), "")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = ConnectRedis(context.Background(), "", "")
	require.Error(t, err)
}

func TestConnectRedisFailsWhenServerIsDown(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := ConnectRedis(context.Background(), "redis://"+addr, "")
	require.Error(t, err)
}

func TestConnectPostgresRejectsEmptyDSN(t *testing.T) {
	_, err := ConnectPostgres("", PoolConfig{})
	require.Error(t, err)
}

func TestPoolConfigDefaults(t *testing.T) {
	pool := PoolConfig{}.withDefaults()
	require.Equal(t, 20, pool.MaxOpenConns)
	require.Equal(t, 30*time.Minute, pool.ConnMaxLifetime)

	pool = PoolConfig{MaxOpenConns: 5, ConnMaxLifetime: time.Minute}.withDefaults()
	require.Equal(t, 5, pool.MaxOpenConns)
	require.Equal(t, time.Minute, pool.ConnMaxLifetime)
}
