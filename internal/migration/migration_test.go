package migration

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestApplyOnSQLiteSeedsSourcesOnce(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()

	require.NoError(t, Apply(ctx, conn, zap.NewNop()))
	require.NoError(t, Apply(ctx, conn, zap.NewNop()))

	var count int64
	require.NoError(t, conn.Model(&domain.Source{}).Count(&count).Error)
	assert.Equal(t, int64(len(DefaultSources)), count)

	var google domain.Source
	require.NoError(t, conn.Where("code = ?", "google").Take(&google).Error)
	assert.Equal(t, "Google", google.Name)

	for _, model := range domain.AllModels() {
		assert.True(t, conn.Migrator().HasTable(model))
	}
}
