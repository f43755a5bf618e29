package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/config"
)

type walletRow struct {
	ID     int
	UserID string `gorm:"uniqueIndex:ux_wallet_rows_user"`
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&walletRow{}))
	return conn
}

func countRows(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&walletRow{}).Count(&n).Error)
	return n
}

func TestWithTx(t *testing.T) {
	conn := openSQLite(t)
	client := NewFromConn(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&walletRow{UserID: "u-1"}).Error
	}))
	assert.EqualValues(t, 1, countRows(t, conn))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&walletRow{UserID: "u-2"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, countRows(t, conn), "failed transaction must roll back")

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&walletRow{UserID: "u-3"}).Error)
			panic("boom")
		})
	})
	assert.EqualValues(t, 1, countRows(t, conn), "panic must roll back")
}

func TestIsUniqueViolation(t *testing.T) {
	conn := openSQLite(t)
	require.NoError(t, conn.Create(&walletRow{UserID: "dup"}).Error)
	sqliteErr := conn.Create(&walletRow{UserID: "dup"}).Error
	require.Error(t, sqliteErr)

	pgxDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_credit_transactions_request"})
	pqDup := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "ux_credit_grants_order"})
	pgxFK := &pgconn.PgError{Code: "23503", ConstraintName: "fk_wallet"}

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil},
		{name: "sqlite", err: sqliteErr, want: true},
		{name: "sqlite ignores constraint name", err: sqliteErr, constraint: "ux_wallet_rows_user", want: true},
		{name: "pgx any", err: pgxDup, want: true},
		{name: "pgx named", err: pgxDup, constraint: "ux_credit_transactions_request", want: true},
		{name: "pgx other constraint", err: pgxDup, constraint: "ux_credit_grants_order"},
		{name: "pgx foreign key", err: pgxFK},
		{name: "pq named", err: pqDup, constraint: "ux_credit_grants_order", want: true},
		{name: "pq other constraint", err: pqDup, constraint: "ux_credit_transactions_request"},
		{name: "message only", err: errors.New(`ERROR: duplicate key value violates unique constraint "ux_credit_grants_order"`), constraint: "ux_credit_grants_order", want: true},
		{name: "unrelated", err: errors.New("connection reset")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: DriverSQLite}, nil)
	assert.ErrorIs(t, err, errDSNRequired)

	_, err = New(context.Background(), config.DBConfig{DSN: "x", Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, `unsupported database driver "oracle"`)

	client, err := New(context.Background(), config.DBConfig{
		DSN:          "file:db_new?mode=memory&cache=shared",
		Driver:       DriverSQLite,
		MaxOpenConns: 2,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Ping(context.Background()))
	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	assert.Equal(t, 2, sqlDB.Stats().MaxOpenConnections)
}

func TestRegisterPoolMetrics(t *testing.T) {
	client := NewFromConn(openSQLite(t))
	reg := prometheus.NewRegistry()

	require.NoError(t, client.RegisterPoolMetrics(reg, "creditwallet"))
	n, err := testutil.GatherAndCount(reg, "go_sql_max_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, client.RegisterPoolMetrics(reg, "creditwallet"), "duplicate registration")
	assert.NoError(t, client.RegisterPoolMetrics(nil, "creditwallet"))
}
