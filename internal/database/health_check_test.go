package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestHealthChecker_Basic(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	checker := NewHealthChecker("registry", db, quietLogger())
	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.Equal(t, "registry", checker.Name())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_FailureAndRecovery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker("registry", db, quietLogger())
	ctx := context.Background()

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	assert.Error(t, checker.Check(ctx))
	assert.False(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.LastError)

	mock.ExpectPing()
	assert.NoError(t, checker.Check(ctx))
	assert.True(t, checker.IsHealthy())

	result = checker.GetHealthResult()
	assert.True(t, result.Healthy)
	assert.Empty(t, result.LastError)
	assert.NotEmpty(t, result.ResponseTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_InitialResult(t *testing.T) {
	checker := NewHealthChecker("cache", PingFunc(func(context.Context) error { return nil }), quietLogger())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.True(t, result.LastCheck.IsZero())
	assert.Empty(t, result.ResponseTime)
}

func TestHealthChecker_BackgroundMonitoring(t *testing.T) {
	failing := true
	checker := NewHealthChecker("cache", PingFunc(func(context.Context) error {
		if failing {
			failing = false
			return errors.New("connection refused")
		}
		return nil
	}), quietLogger())
	checker.SetCheckInterval(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		checker.Start(context.Background())
		close(done)
	}()

	require.NoError(t, checker.WaitForHealthy(context.Background(), time.Second))

	checker.Stop()
	checker.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop")
	}
}

func TestHealthChecker_WaitForHealthyTimeout(t *testing.T) {
	checker := NewHealthChecker("cache", PingFunc(func(context.Context) error { return errors.New("down") }), quietLogger())
	_ = checker.Check(context.Background())

	err := checker.WaitForHealthy(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
