package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/shared/logger"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		want      []string
		wantErr   bool
		errString string
	}{
		{
			name: "postgres",
			config: Config{
				Driver: DriverPostgres, Host: "db", Port: 5432,
				User: "scribe", Password: "secret", Database: "lectures", SSLMode: "disable",
			},
			want: []string{"host=db", "port=5432", "dbname=lectures", "sslmode=disable"},
		},
		{
			name:   "sqlite with pragmas",
			config: Config{Driver: DriverSQLite, Path: "/var/lib/queue.db"},
			want:   []string{"file:/var/lib/queue.db?", "busy_timeout%285000%29", "journal_mode%28WAL%29"},
		},
		{
			name:      "sqlite without path",
			config:    Config{Driver: DriverSQLite},
			wantErr:   true,
			errString: "sqlite path is required",
		},
		{
			name:      "unknown driver",
			config:    Config{Driver: "mysql"},
			wantErr:   true,
			errString: "unsupported database driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := tt.config.DSN()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
			for _, part := range tt.want {
				assert.True(t, strings.Contains(dsn, part), "dsn %q should contain %q", dsn, part)
			}
		})
	}
}

func TestNewClient_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")

	client, err := NewClient(&Config{Driver: DriverSQLite, Path: path}, logger.NewNop().Logger)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 1, client.GetDB().Stats().MaxOpenConnections)

	// placeholders stay as "?" for sqlite
	assert.Equal(t, "SELECT ?", client.GetDB().Rebind("SELECT ?"))
}
