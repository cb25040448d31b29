package dataset

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGlobalPanel(t *testing.T) {
	// Aliased headers with mixed case and spaces, rows out of order, one row
	// with an unparseable date and one with a missing metric.
	path := writeFixture(t, "global.csv", `Year,Month,Hours Watched,Avg Concurrent Viewers
2020,2,1200000,40000
2020,1,1000000,30000
bad,1,500,10
2020,4,,50000
2020,3,1300000,45000
`)

	points, err := LoadGlobalPanel(path)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, MonthStart(2020, 1), points[0].Date)
	assert.Equal(t, MonthStart(2020, 2), points[1].Date)
	assert.Equal(t, MonthStart(2020, 3), points[2].Date)
	assert.InDelta(t, 1000000, points[0].HoursWatched, 1e-9)
	assert.InDelta(t, 30000, points[0].AvgConcurrentViewers, 1e-9)
}

func TestLoadGlobalPanelDuplicateMonth(t *testing.T) {
	path := writeFixture(t, "global.csv", `year,month,hours_watched,avg_concurrent_viewers
2020,1,100,10
2020,1,200,20
`)

	_, err := LoadGlobalPanel(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate month 2020-01")
}

func TestLoadGlobalPanelMissingColumn(t *testing.T) {
	path := writeFixture(t, "global.csv", `year,month,hours_watched
2020,1,100
`)

	_, err := LoadGlobalPanel(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "avg_concurrent_viewers")
}

func TestLoadCategoryPanel(t *testing.T) {
	// "Game" is an accepted alias for the category column. Several categories
	// share each month.
	path := writeFixture(t, "category.csv", `Year,Month,Game,Hours Watched
2020,2,Just Chatting,500000
2020,1,Just Chatting,400000
2020,1,League of Legends,350000
`)

	points, err := LoadCategoryPanel(path)
	require.NoError(t, err)
	require.Len(t, points, 3)

	// Sorted by date; order within a month is preserved.
	assert.Equal(t, MonthStart(2020, 1), points[0].Date)
	assert.Equal(t, "Just Chatting", points[0].Category)
	assert.Equal(t, "League of Legends", points[1].Category)
	assert.Equal(t, MonthStart(2020, 2), points[2].Date)
}

func TestLoadStreamerProfilesCSV(t *testing.T) {
	path := writeFixture(t, "streamers.csv", `avg_viewers_per_stream,avg_stream_duration_hours,avg_games_per_stream,followers_gained_per_stream,total_followers,active_days_per_week,most_streamed_game,most_active_day,day_with_most_followers_gained
"1,200.5",8,1.2,400,5000000,6.5,Fortnite,Saturday,Sunday
NA,3,7.5,20,100000,2,Valorant,Monday,Monday
60,4,2,35,,3,Minecraft,Friday,Friday
`)

	profiles, err := LoadStreamerProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	first := profiles[0]
	assert.Equal(t, 0, first.ID)
	assert.InDelta(t, 1200.5, first.AvgViewersPerStream, 1e-9) // thousands separator stripped
	assert.Equal(t, int64(5000000), first.TotalFollowers)
	assert.Equal(t, "Fortnite", first.MostStreamedGame)
	assert.Equal(t, "Sunday", first.BestFollowerDay)
	assert.True(t, first.HasClusterFeatures())

	// NA viewers: kept for regression, excluded from clustering.
	second := profiles[1]
	assert.True(t, math.IsNaN(second.AvgViewersPerStream))
	assert.False(t, second.HasClusterFeatures())

	// Missing follower total defaults to zero, not NaN.
	assert.Equal(t, int64(0), profiles[2].TotalFollowers)
}

func TestLoadStreamerProfilesXLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"avg_viewers_per_stream", "avg_stream_duration_hours", "avg_games_per_stream",
			"followers_gained_per_stream", "total_followers", "active_days_per_week",
			"most_streamed_game", "most_active_day", "best_follower_day"},
		{900, 7.5, 1.1, 250, 2000000, 5, "Just Chatting", "Sunday", "Saturday"},
		{45, 2.5, 3.4, 12, 80000, 1.5, "Dota 2", "Tuesday", "Tuesday"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "streamers.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	profiles, err := LoadStreamerProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.InDelta(t, 900, profiles[0].AvgViewersPerStream, 1e-9)
	assert.Equal(t, "Just Chatting", profiles[0].MostStreamedGame)
	assert.InDelta(t, 1.5, profiles[1].ActiveDaysPerWeek, 1e-9)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadGlobalPanel(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	headerOnly := writeFixture(t, "empty.csv", "year,month,hours_watched,avg_concurrent_viewers\n")
	_, err = LoadGlobalPanel(headerOnly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data rows")
}
