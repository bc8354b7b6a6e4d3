package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	testingutil "github.com/amirphl/plotshare/testing"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepoDB(t *testing.T) *testingutil.TestDB {
	t.Helper()
	testDB, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = testDB.TeardownTestDB() })
	return testDB
}

func TestCachedTeamStatsWithoutClient(t *testing.T) {
	testDB := setupRepoDB(t)
	base := repository.NewTeamStatsRepository(testDB.DB)

	repo := repository.NewCachedTeamStatsRepository(base, nil, "plotshare:", time.Minute)
	assert.Same(t, base, repo)
}

func TestCachedTeamStatsFallsBackWhenRedisIsDown(t *testing.T) {
	testDB := setupRepoDB(t)
	ctx := context.Background()

	rc := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rc.Close() })

	repo := repository.NewCachedTeamStatsRepository(repository.NewTeamStatsRepository(testDB.DB), rc, "plotshare:", time.Minute)

	missing, err := repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Save(ctx, &models.TeamStats{UserID: 7, TeamValue: decimal.NewFromInt(42000), MemberCount: 6}))

	stats, err := repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.True(t, decimal.NewFromInt(42000).Equal(stats.TeamValue))
	assert.Equal(t, 6, stats.MemberCount)
}
