package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSSLMode(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "disable"},
		{"postgres://u:p@localhost:5432/db?sslmode=REQUIRE", "require"},
		{"postgres://u:p@localhost:5432/db", "prefer (default)"},
		{"::not a url", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSSLMode(tt.url))
		})
	}
}

func TestQueryName(t *testing.T) {
	assert.Equal(t, "insert", queryName("\n\t\tINSERT INTO sessions (id) VALUES ($1)"))
	assert.Equal(t, "select", queryName("SELECT 1"))
	assert.Equal(t, "unknown", queryName("   "))
}
