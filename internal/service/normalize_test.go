package service

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/odstat/internal/domain"
)

const statHeader = "Direction,Lane,Ground Truth,Zone Counted Times - TP,Zone Counted Times - FP,Zone Counted Times - FN,Precision,Recall\n"

func singapore(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	return loc
}

func writeRun(t *testing.T, scene string, files map[string]string) *domain.UnpackedRun {
	t.Helper()
	dir := filepath.Join(t.TempDir(), scene)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	run := &domain.UnpackedRun{SceneName: scene, BaseDir: dir}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		run.CSVPaths = append(run.CSVPaths, path)
	}
	return run
}

func TestParseVersionKey(t *testing.T) {
	loc := singapore(t)

	t.Run("daily build", func(t *testing.T) {
		vk, err := ParseVersionKey("SIMPL_OD_daily_build_dev-SIMPL_20260108_220928_5924-job-ESEE-353_190", loc)
		require.NoError(t, err)
		assert.Equal(t, "daily_build", vk.Version)
		require.NotNil(t, vk.Time)
		assert.Equal(t, time.Date(2026, 1, 8, 22, 9, 0, 0, loc), *vk.Time)
	})

	t.Run("release", func(t *testing.T) {
		vk, err := ParseVersionKey("REL-1.2-job-ESEE-353_77_78", loc)
		require.NoError(t, err)
		assert.Equal(t, "REL-1.2", vk.Version)
		assert.Nil(t, vk.Time)
	})

	t.Run("prefix stripped", func(t *testing.T) {
		vk, err := ParseVersionKey("SIMPL_OD_v3.1.0-job-ESEE-9_1", loc)
		require.NoError(t, err)
		assert.Equal(t, "v3.1.0", vk.Version)
	})

	for _, name := range []string{"REL-1.2_77", "a-job-ESEE-1-job-ESEE-2", "SIMPL_OD_daily_build_x-job-ESEE-1_2"} {
		t.Run("invalid "+name, func(t *testing.T) {
			_, err := ParseVersionKey(name, loc)
			assert.True(t, errors.Is(err, domain.ErrVersionInference))
		})
	}
}

func TestInferTimeFromFilename(t *testing.T) {
	loc := singapore(t)

	got, ok := InferTimeFromFilename("/x/a_stop_bar_statistic_with_time_2026-01-08-23-06-20.csv", loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 8, 23, 6, 0, 0, loc), got)

	_, ok = InferTimeFromFilename("a_stop_bar_statistic.csv", loc)
	assert.False(t, ok)
}

func TestNormalize_Rows(t *testing.T) {
	loc := singapore(t)
	run := writeRun(t, "scene_a", map[string]string{
		"a_stop_bar_statistic_with_time_2026-01-08-23-06-20.csv": "\ufeff" + statHeader +
			"north,1,10,8.0,1.0,2,87.456,150\n" +
			"north,Total,99,99,99,99,99,99\n" +
			"south,TOTAL,99,99,99,99,99,99\n" +
			"south,x,1,1,1,1,1,1\n" +
			"south,-1,1,1,1,1,1,1\n" +
			"south,3,2.5,abc,-4,1.49,-5,87.455\n",
		"a_stop_bar_statistic_without_time.csv": "not,a,match\n",
		"notes.txt":                             "ignored",
	})

	records, err := NewNormalizer(loc).Normalize(run, "stop_bar_statistic_with_time", "x86", domain.VersionKey{Version: "REL-1.2"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "REL-1.2", first.Version)
	assert.Equal(t, "x86", first.Platform)
	assert.Equal(t, "scene_a", first.Scene)
	assert.Equal(t, "north", first.Direction)
	assert.Equal(t, 1, first.Lane)
	assert.Equal(t, 10, first.GroundTruth)
	assert.Equal(t, 8, first.TP)
	assert.Equal(t, 1, first.FP)
	assert.Equal(t, 2, first.FN)
	assert.Equal(t, 87.46, first.Precision)
	assert.Equal(t, 100.0, first.Recall)
	assert.Equal(t, time.Date(2026, 1, 8, 23, 6, 0, 0, loc), first.Time)

	second := records[1]
	assert.Equal(t, 3, second.Lane)
	assert.Equal(t, 3, second.GroundTruth)
	assert.Equal(t, 0, second.TP)
	assert.Equal(t, 0, second.FP)
	assert.Equal(t, 1, second.FN)
	assert.Equal(t, 0.0, second.Precision)
	assert.Equal(t, 87.46, second.Recall)
}

func TestNormalize_DirectoryTimeWins(t *testing.T) {
	loc := singapore(t)
	dirTime := time.Date(2026, 1, 8, 22, 9, 0, 0, loc)
	run := writeRun(t, "scene_a", map[string]string{
		"a_stop_bar_statistic_with_time_2025-05-05-05-05-05.csv": statHeader + "north,1,1,1,0,0,100,100\n",
	})

	records, err := NewNormalizer(loc).Normalize(run, "stop_bar", "arm", domain.VersionKey{Version: "daily_build", Time: &dirTime})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, dirTime, records[0].Time)
}

func TestNormalize_MissingTime(t *testing.T) {
	run := writeRun(t, "scene_a", map[string]string{
		"a_stop_bar_statistic_with_time.csv": statHeader + "north,1,1,1,0,0,100,100\n",
	})

	_, err := NewNormalizer(time.UTC).Normalize(run, "stop_bar", "arm", domain.VersionKey{Version: "REL-1.2"})
	assert.True(t, errors.Is(err, domain.ErrVersionInference))
}

func TestNormalize_SchemaErrorEmitsNothing(t *testing.T) {
	columns := []string{"Direction", "Lane", "Ground Truth", "Zone Counted Times - TP",
		"Zone Counted Times - FP", "Zone Counted Times - FN", "Precision", "Recall"}

	for skip := range columns {
		t.Run("without "+columns[skip], func(t *testing.T) {
			header, row := "", ""
			for i, c := range columns {
				if i == skip {
					continue
				}
				if header != "" {
					header += ","
					row += ","
				}
				header += c
				row += "1"
			}
			run := writeRun(t, "scene_a", map[string]string{
				"a_stop_bar_2026-01-08-23-06-20.csv": statHeader + "north,1,1,1,0,0,100,100\n",
				"b_stop_bar_2026-01-08-23-06-20.csv": header + "\n" + row + "\n",
			})

			records, err := NewNormalizer(time.UTC).Normalize(run, "stop_bar", "x86", domain.VersionKey{Version: "v"})
			assert.True(t, errors.Is(err, domain.ErrSchema))
			assert.Empty(t, records)
		})
	}
}

func TestParsePercent(t *testing.T) {
	testCases := map[string]float64{
		"-5":     0,
		"150":    100,
		"87.456": 87.46,
		"87.455": 87.46,
		"87.454": 87.45,
		"1.005":  1.01,
		"50":     50,
		"n/a":    0,
		"":       0,
	}
	for in, want := range testCases {
		assert.Equal(t, want, parsePercent(in), in)
	}
}

func TestParseLaneAndCount(t *testing.T) {
	lane, ok := parseLane("3")
	assert.True(t, ok)
	assert.Equal(t, 3, lane)

	lane, ok = parseLane("2.0")
	assert.True(t, ok)
	assert.Equal(t, 2, lane)

	lane, ok = parseLane("2147483647")
	assert.True(t, ok)
	assert.Equal(t, math.MaxInt32, lane)

	for _, s := range []string{"total", "Total", "TOTAL", "tOtAl", "", "NaN", "-1", "lane", "1e300", "2147483648", "Inf"} {
		_, ok := parseLane(s)
		assert.False(t, ok, s)
	}

	assert.Equal(t, 2, parseCount("1.5"))
	assert.Equal(t, 1, parseCount("1.49"))
	assert.Equal(t, 0, parseCount("x"))
	assert.Equal(t, 0, parseCount("-3"))

	for _, s := range []string{"1e300", "2147483648", "+Inf"} {
		assert.Equal(t, math.MaxInt32, parseCount(s), s)
	}
	assert.Equal(t, 0, parseCount("-Inf"))
}
