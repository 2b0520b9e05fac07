package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].version, migrations[i].version)
	}

	require.Equal(t, 1, migrations[0].version)
	require.Contains(t, migrations[0].content, "CONSTRAINT gen_jobs_key UNIQUE (generation_id, job_type, target_id)")
	require.Contains(t, migrations[1].content, "'"+DefaultNotifyChannel+"'")
}
