package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Business.Courts)
	assert.Equal(t, []int{60, 90, 120}, cfg.Business.Durations)
	assert.Equal(t, 15, cfg.Business.HorizonDays)
	assert.Equal(t, 0, cfg.Business.LegacyChainDays)
	assert.Equal(t, 30*time.Minute, cfg.SlotDuration())
	assert.Equal(t, 15*time.Minute, cfg.HoldDuration())
	assert.Equal(t, time.Minute, cfg.RateLimitWindow())
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("COURTBOOK_TEST_KEY", "secret")

	cfg, err := Parse([]byte(`
admin:
  api_keys: ["${COURTBOOK_TEST_KEY}"]
business:
  utc_offset_hours: -3
  courts: 4
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"secret"}, cfg.Admin.APIKeys)
	assert.Equal(t, -3, cfg.Business.UTCOffsetHours)
	assert.Equal(t, 4, cfg.Business.Courts)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database: {driver: postgres}"},
		{"offset out of range", "business: {utc_offset_hours: 20}"},
		{"duration off grid", "business: {durations: [45]}"},
		{"slot does not divide day", "business: {slot_minutes: 7}"},
		{"negative chain", "business: {legacy_chain_days: -1}"},
		{"broken yaml", "business: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "nested", "courtbook.db")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: "+dbPath+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.DirExists(t, filepath.Join(dir, "nested"))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
