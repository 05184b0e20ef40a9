package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/config"
	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
)

func sqliteConfig(string) (*config.Config, error) {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: db.DriverSQLite, URL: "file::memory:", AutoMigrate: true},
		Payments: config.PaymentsConfig{
			MinAmount:      "1",
			MaxAmount:      "100000",
			Currencies:     []string{"INR"},
			IdempotencyTTL: time.Hour,
		},
		Gateway:   config.GatewayConfig{MaxAttempts: 1, Timeout: time.Second},
		Razorpay:  config.RazorpayConfig{KeyID: "rzp_test", KeySecret: "secret"},
		Reconcile: config.ReconcileConfig{Schedule: "FREQ=HOURLY", Lookback: time.Hour, Concurrency: 1},
		Log:       config.LogConfig{Level: "info"},
	}, nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(sqliteConfig)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestReconcileEmptyLedger(t *testing.T) {
	out, err := execute(t, "reconcile", "--from", "2026-03-01", "--to", "2026-03-07", "--mark")
	require.NoError(t, err)

	var report core.ReconciliationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.TotalProcessed)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), report.From)
}

func TestReconcileRejectsBadWindow(t *testing.T) {
	_, err := execute(t, "reconcile", "--from", "yesterday")
	assert.ErrorContains(t, err, "--from")

	_, err = execute(t, "reconcile", "--from", "2026-03-07", "--to", "2026-03-01")
	assert.ErrorContains(t, err, "is after")
}

func TestPaymentCommandsNeedKnownPayment(t *testing.T) {
	_, err := execute(t, "history", "not-a-uuid")
	assert.True(t, core.IsKind(err, core.KindValidation))

	id := uuid.NewString()
	for _, sub := range []string{"history", "status", "mark-reconciled"} {
		_, err := execute(t, sub, id)
		assert.True(t, core.IsKind(err, core.KindNotFound), sub)
	}
}

func TestReconcileWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	req, err := reconcileWindow("", "", 48*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), req.From)
	assert.Equal(t, now, req.To)

	req, err = reconcileWindow("2026-03-01T10:00:00+05:30", "2026-03-02", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC), req.From)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, 999999999, time.UTC), req.To)
}
