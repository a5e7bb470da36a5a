package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bookwise")

	cfg := LoadConfig()
	assert.Equal(t, "postgres://localhost/bookwise", cfg.DatabaseURL)
	assert.Equal(t, 7*24*time.Hour, cfg.StalenessWindow)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 3, cfg.StageMaxAttempts)
	assert.Equal(t, 20, cfg.QuestionCount)
	assert.Equal(t, 12000, cfg.QuestionContextChars)
	assert.Equal(t, "8080", cfg.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STALENESS_WINDOW", "48h")
	t.Setenv("QUESTION_COUNT", "10")
	t.Setenv("WORKERS", "4")

	cfg := LoadConfig()
	assert.Equal(t, 48*time.Hour, cfg.StalenessWindow)
	assert.Equal(t, 10, cfg.QuestionCount)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadConfig_BadValuesFallBack(t *testing.T) {
	t.Setenv("MAX_RETRIES", "three")
	t.Setenv("FETCH_TIMEOUT", "soon")

	cfg := LoadConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bookwise")
	base := LoadConfig()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero attempts", func(c *Config) { c.StageMaxAttempts = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero questions", func(c *Config) { c.QuestionCount = 0 }},
		{"zero excerpt budget", func(c *Config) { c.ExcerptBudget = 0 }},
		{"zero staleness", func(c *Config) { c.StalenessWindow = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
