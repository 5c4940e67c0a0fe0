package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/festpay?sslmode=disable", "pgx5://u:p@localhost:5432/festpay?sslmode=disable"},
		{"postgresql://localhost/festpay", "pgx5://localhost/festpay"},
		{"pgx5://localhost/festpay", "pgx5://localhost/festpay"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrationURL(tt.in))
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 6)
}
