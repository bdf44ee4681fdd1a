package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresMongoURI(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CONFLICT_MAX_RETRIES", "5")
	t.Setenv("INTERVIEW_ROOM_TTL_HOURS", "168")

	cfg, err := Load("bg")
	require.NoError(t, err)
	assert.Equal(t, "bg", cfg.RunMode)
	assert.Equal(t, 5, cfg.ConflictMaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.InterviewRoomTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHAT_UPSERT_MAX_RETRIES", "7")
	t.Setenv("MOCK_SERVICES", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("api")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.ChatUpsertMaxRetries)
	assert.True(t, cfg.MockServices)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PITCH_MAX_LENGTH", "lots")

	_, err := Load("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PITCH_MAX_LENGTH")
}
