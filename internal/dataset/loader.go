package dataset

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column aliases seen across exports of the source datasets. Headers are
// normalized (lowercased, spaces and dashes to underscores) before lookup.
var columnAliases = map[string][]string{
	"year":                        {"year"},
	"month":                       {"month"},
	"hours_watched":               {"hours_watched", "hours"},
	"avg_concurrent_viewers":      {"avg_concurrent_viewers", "avg_viewers", "average_viewers"},
	"category":                    {"category", "game", "game_name"},
	"avg_viewers_per_stream":      {"avg_viewers_per_stream", "average_viewers_per_stream"},
	"avg_stream_duration_hours":   {"avg_stream_duration_hours", "average_stream_duration", "avg_stream_duration"},
	"avg_games_per_stream":        {"avg_games_per_stream", "average_games_per_stream"},
	"followers_gained_per_stream": {"followers_gained_per_stream", "avg_followers_gained_per_stream"},
	"total_followers":             {"total_followers", "followers"},
	"active_days_per_week":        {"active_days_per_week", "avg_active_days_per_week"},
	"most_streamed_game":          {"most_streamed_game"},
	"most_active_day":             {"most_active_day"},
	"best_follower_day":           {"best_follower_day", "day_with_most_followers_gained"},
}

// LoadGlobalPanel loads the platform-wide monthly engagement panel from a CSV
// file. The date is derived from separate year and month columns and
// normalized to the first of the month. Rows failing validation are skipped
// with a warning; duplicate months are an error.
func LoadGlobalPanel(path string) ([]TimePoint, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	cols, err := headerIndex(rows[0], "year", "month", "hours_watched", "avg_concurrent_viewers")
	if err != nil {
		return nil, fmt.Errorf("global panel %s: %w", filepath.Base(path), err)
	}

	logger := slog.Default()
	var points []TimePoint

	for i, row := range rows[1:] {
		row = padRow(row, len(rows[0]))
		year, err1 := strconv.Atoi(strings.TrimSpace(row[cols["year"]]))
		month, err2 := strconv.Atoi(strings.TrimSpace(row[cols["month"]]))
		if err1 != nil || err2 != nil || month < 1 || month > 12 {
			logger.Warn("skipping global panel row with invalid date",
				"file", filepath.Base(path), "row", i+2)
			continue
		}

		tp := TimePoint{
			Date:                 MonthStart(year, month),
			HoursWatched:         parseOptionalFloat(row[cols["hours_watched"]]),
			AvgConcurrentViewers: parseOptionalFloat(row[cols["avg_concurrent_viewers"]]),
		}
		if !tp.IsValid() {
			logger.Warn("skipping invalid global panel row",
				"file", filepath.Base(path), "row", i+2)
			continue
		}
		points = append(points, tp)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("global panel %s: no valid rows", filepath.Base(path))
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	for i := 1; i < len(points); i++ {
		if points[i].Date.Equal(points[i-1].Date) {
			return nil, fmt.Errorf("global panel %s: duplicate month %s",
				filepath.Base(path), points[i].Date.Format("2006-01"))
		}
	}

	return points, nil
}

// LoadCategoryPanel loads the per-category monthly panel from a CSV file.
// Many rows may share a date (one per top category that month).
func LoadCategoryPanel(path string) ([]CategoryTimePoint, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	cols, err := headerIndex(rows[0], "year", "month", "category", "hours_watched")
	if err != nil {
		return nil, fmt.Errorf("category panel %s: %w", filepath.Base(path), err)
	}

	logger := slog.Default()
	var points []CategoryTimePoint

	for i, row := range rows[1:] {
		row = padRow(row, len(rows[0]))
		year, err1 := strconv.Atoi(strings.TrimSpace(row[cols["year"]]))
		month, err2 := strconv.Atoi(strings.TrimSpace(row[cols["month"]]))
		if err1 != nil || err2 != nil || month < 1 || month > 12 {
			logger.Warn("skipping category panel row with invalid date",
				"file", filepath.Base(path), "row", i+2)
			continue
		}

		cp := CategoryTimePoint{
			Date:         MonthStart(year, month),
			Category:     strings.TrimSpace(row[cols["category"]]),
			HoursWatched: parseOptionalFloat(row[cols["hours_watched"]]),
		}
		if !cp.IsValid() {
			logger.Warn("skipping invalid category panel row",
				"file", filepath.Base(path), "row", i+2)
			continue
		}
		points = append(points, cp)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("category panel %s: no valid rows", filepath.Base(path))
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// LoadStreamerProfiles loads the top-streamer snapshot from a CSV or xlsx
// file (detected by extension). Missing numeric values become NaN so that the
// clustering pipeline can exclude those rows without dropping them globally.
func LoadStreamerProfiles(path string) ([]StreamerProfile, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}

	cols, err := headerIndex(rows[0],
		"avg_viewers_per_stream", "avg_stream_duration_hours", "avg_games_per_stream",
		"followers_gained_per_stream", "total_followers", "active_days_per_week",
		"most_streamed_game", "most_active_day", "best_follower_day")
	if err != nil {
		return nil, fmt.Errorf("streamer snapshot %s: %w", filepath.Base(path), err)
	}

	logger := slog.Default()
	var profiles []StreamerProfile

	for i, row := range rows[1:] {
		row = padRow(row, len(rows[0]))
		totalFollowers := int64(0)
		if f := parseOptionalFloat(row[cols["total_followers"]]); !math.IsNaN(f) {
			totalFollowers = int64(f)
		}

		sp := StreamerProfile{
			ID:                       i,
			AvgViewersPerStream:      parseOptionalFloat(row[cols["avg_viewers_per_stream"]]),
			AvgStreamDurationHours:   parseOptionalFloat(row[cols["avg_stream_duration_hours"]]),
			AvgGamesPerStream:        parseOptionalFloat(row[cols["avg_games_per_stream"]]),
			FollowersGainedPerStream: parseOptionalFloat(row[cols["followers_gained_per_stream"]]),
			TotalFollowers:           totalFollowers,
			ActiveDaysPerWeek:        parseOptionalFloat(row[cols["active_days_per_week"]]),
			MostStreamedGame:         strings.TrimSpace(row[cols["most_streamed_game"]]),
			MostActiveDay:            strings.TrimSpace(row[cols["most_active_day"]]),
			BestFollowerDay:          strings.TrimSpace(row[cols["best_follower_day"]]),
		}
		if !sp.IsValid() {
			logger.Warn("skipping invalid streamer row",
				"file", filepath.Base(path), "row", i+2)
			continue
		}
		profiles = append(profiles, sp)
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("streamer snapshot %s: no valid rows", filepath.Base(path))
	}

	return profiles, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // tolerate ragged rows, validated per field later

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return rows, nil
}

// headerIndex resolves the requested logical columns against a header row,
// honoring the alias table. All requested columns must resolve.
func headerIndex(header []string, wanted ...string) (map[string]int, error) {
	normalized := make(map[string]int, len(header))
	for i, h := range header {
		normalized[normalizeHeader(h)] = i
	}

	cols := make(map[string]int, len(wanted))
	for _, name := range wanted {
		found := false
		for _, alias := range columnAliases[name] {
			if idx, ok := normalized[alias]; ok {
				cols[name] = idx
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

// padRow extends a short row with empty cells so column indexes resolved
// from the header stay in range (xlsx readers drop trailing empty cells).
func padRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// parseOptionalFloat parses a numeric cell, mapping blanks and NA markers to
// NaN rather than failing the row.
func parseOptionalFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null":
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
