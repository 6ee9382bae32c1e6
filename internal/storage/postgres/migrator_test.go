package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsFromFS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []string
		wantErr string
	}{
		{
			name: "ordered by version",
			files: fstest.MapFS{
				"sql/migrations/0010_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
				"sql/migrations/0010_more.down.sql": {Data: []byte("DROP TABLE b;")},
				"sql/migrations/0002_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
				"sql/migrations/0002_init.down.sql": {Data: []byte("DROP TABLE a;")},
			},
			want: []string{"0002_init", "0010_more"},
		},
		{
			name: "missing down",
			files: fstest.MapFS{
				"sql/migrations/0001_init.up.sql": {Data: []byte("CREATE TABLE a (id INT);")},
			},
			wantErr: "both up and down",
		},
		{
			name: "unknown direction",
			files: fstest.MapFS{
				"sql/migrations/0001_init.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: ".up.sql or .down.sql",
		},
		{
			name: "no version",
			files: fstest.MapFS{
				"sql/migrations/init.up.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "invalid migration",
		},
		{
			name: "empty body",
			files: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
			},
			wantErr: "empty",
		},
		{
			name: "conflicting names",
			files: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INT);")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("DROP TABLE a;")},
			},
			wantErr: "conflicting names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			migrations, err := loadMigrationsFromFS(tt.files)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got := make([]string, 0, len(migrations))
			for _, m := range migrations {
				got = append(got, m.String())
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 5)
	require.Equal(t, "0005_catalog", migrations[4].String())
}

func TestVerifyChecksums(t *testing.T) {
	all := []migration{{Version: 1, Name: "init", UpSQL: "CREATE TABLE a (id INT);", DownSQL: "DROP TABLE a;"}}

	require.NoError(t, verifyChecksums(all, []appliedMigration{{Version: 1, Checksum: all[0].checksum()}}))
	require.NoError(t, verifyChecksums(all, []appliedMigration{{Version: 7, Checksum: "unknown"}}))
	require.ErrorIs(t, verifyChecksums(all, []appliedMigration{{Version: 1, Checksum: "edited"}}), ErrMigrationDrift)
}

func TestPendingCount(t *testing.T) {
	all := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	require.Equal(t, 3, pendingCount(all, nil))
	require.Equal(t, 1, pendingCount(all, []appliedMigration{{Version: 1}, {Version: 2}}))
}
