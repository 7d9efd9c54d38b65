package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.App.StoreDriver)
	assert.Equal(t, "memory", cfg.Events.LogDriver)
	assert.Equal(t, "rules", cfg.Labeling.Provider)
	assert.False(t, cfg.Review.RequireSignoff)
	assert.Equal(t, 5*time.Second, cfg.Notification.AttemptTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.Notification.OnCallClinicianIDs)
	assert.False(t, cfg.Labeling.RecoverOnStart)
	assert.Equal(t, time.Minute, cfg.Labeling.RecoverAge)
}

func TestLoad_AnalysisRecovery(t *testing.T) {
	t.Setenv("ANALYSIS_RECOVER_ON_START", "true")
	t.Setenv("ANALYSIS_RECOVER_AGE", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Labeling.RecoverOnStart)
	assert.Equal(t, 5*time.Minute, cfg.Labeling.RecoverAge)
}

func TestLoad_ReviewAndNotificationConfig(t *testing.T) {
	t.Setenv("REVIEW_REQUIRE_SIGNOFF", "true")
	t.Setenv("ONCALL_CLINICIAN_IDS", "doc-1, doc-2,,")
	t.Setenv("PUSH_ATTEMPT_TIMEOUT", "2s")
	t.Setenv("IDENTITY_STATIC_TOKENS", "tok-a=pat-1:patient,tok-b=doc-1:clinician")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Review.RequireSignoff)
	assert.Equal(t, []string{"doc-1", "doc-2"}, cfg.Notification.OnCallClinicianIDs)
	assert.Equal(t, 2*time.Second, cfg.Notification.AttemptTimeout)
	assert.Len(t, cfg.Identity.StaticTokens, 2)
}

func TestLoad_InvalidDrivers(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"STORE_DRIVER": "mongo"}},
		{name: "redis log without redis", env: map[string]string{"EVENT_LOG_DRIVER": "redis"}},
		{name: "http labeler without url", env: map[string]string{"LABELING_PROVIDER": "http"}},
		{name: "no workers", env: map[string]string{"ANALYSIS_WORKERS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", c.DatabaseDSN())
}
