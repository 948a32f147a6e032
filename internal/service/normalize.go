package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/odstat/internal/domain"
)

const (
	versionSeparator = "-job-ESEE"
	versionPrefix    = "SIMPL_OD_"
	dailyBuildMarker = "daily_build"
)

// Required CSV columns.
const (
	colDirection   = "Direction"
	colLane        = "Lane"
	colGroundTruth = "Ground Truth"
	colTP          = "Zone Counted Times - TP"
	colFP          = "Zone Counted Times - FP"
	colFN          = "Zone Counted Times - FN"
	colPrecision   = "Precision"
	colRecall      = "Recall"
)

var requiredColumns = []string{
	colDirection, colLane, colGroundTruth, colTP, colFP, colFN, colPrecision, colRecall,
}

var (
	dailyBuildTimePattern = regexp.MustCompile(`(\d{8})_(\d{6})_\d{4}`)
	filenameTimePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}`)
)

// ParseVersionKey derives the version, and for daily builds the timestamp,
// from a run directory name such as
// "SIMPL_OD_daily_build_dev-SIMPL_20260108_220928_5924-job-ESEE-353_190".
func ParseVersionKey(runDirName string, loc *time.Location) (domain.VersionKey, error) {
	parts := strings.Split(runDirName, versionSeparator)
	if len(parts) != 2 {
		return domain.VersionKey{}, fmt.Errorf("%w: %q lacks a single %s", domain.ErrVersionInference, runDirName, versionSeparator)
	}
	version := strings.Replace(parts[0], versionPrefix, "", 1)
	if !strings.Contains(version, dailyBuildMarker) {
		return domain.VersionKey{Version: version}, nil
	}

	m := dailyBuildTimePattern.FindStringSubmatch(version)
	if m == nil {
		return domain.VersionKey{}, fmt.Errorf("%w: malformed daily build %q", domain.ErrVersionInference, runDirName)
	}
	t, err := time.ParseInLocation("20060102150405", m[1]+m[2], loc)
	if err != nil {
		return domain.VersionKey{}, fmt.Errorf("%w: %q: %v", domain.ErrVersionInference, runDirName, err)
	}
	t = truncateMinute(t)
	return domain.VersionKey{Version: dailyBuildMarker, Time: &t}, nil
}

// InferTimeFromFilename reads a YYYY-MM-DD-HH-MM-SS stamp from the base name
// of path, truncated to the minute in loc.
func InferTimeFromFilename(path string, loc *time.Location) (time.Time, bool) {
	stamp := filenameTimePattern.FindString(filepath.Base(path))
	if stamp == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02-15-04-05", stamp, loc)
	if err != nil {
		return time.Time{}, false
	}
	return truncateMinute(t), true
}

func truncateMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// Normalizer turns statistic CSV files into StatRecords.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a Normalizer that stamps times in loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize parses every file of run whose name contains key.
// The version key's time wins over times found in file names.
//
// A missing column or unreadable file fails the whole run with
// domain.ErrSchema and no records; a file without any usable time fails with
// domain.ErrVersionInference. Malformed rows are dropped silently.
func (n *Normalizer) Normalize(run *domain.UnpackedRun, key, platform string, vkey domain.VersionKey) ([]domain.StatRecord, error) {
	var records []domain.StatRecord
	for _, path := range run.CSVPaths {
		name := filepath.Base(path)
		if !strings.Contains(name, key) || strings.HasSuffix(name, ".tar.gz") {
			continue
		}

		var ts time.Time
		if vkey.Time != nil {
			ts = *vkey.Time
		} else {
			t, ok := InferTimeFromFilename(name, n.loc)
			if !ok {
				return nil, fmt.Errorf("%w: no YYYY-MM-DD-HH-MM-SS in %s", domain.ErrVersionInference, name)
			}
			ts = t
		}

		rows, err := n.parseFile(path)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			row.Version = vkey.Version
			row.Platform = platform
			row.Scene = run.SceneName
			row.Time = ts
			records = append(records, row)
		}
	}
	return records, nil
}

func (n *Normalizer) parseFile(path string) ([]domain.StatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchema, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read header: %v", domain.ErrSchema, filepath.Base(path), err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSchema, filepath.Base(path), err)
	}

	var records []domain.StatRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrSchema, filepath.Base(path), err)
		}
		field := func(col string) string {
			if i := idx[col]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		lane, ok := parseLane(field(colLane))
		if !ok {
			continue
		}
		records = append(records, domain.StatRecord{
			Direction:   field(colDirection),
			Lane:        lane,
			GroundTruth: parseCount(field(colGroundTruth)),
			TP:          parseCount(field(colTP)),
			FP:          parseCount(field(colFP)),
			FN:          parseCount(field(colFN)),
			Precision:   parsePercent(field(colPrecision)),
			Recall:      parsePercent(field(colRecall)),
		})
	}
	return records, nil
}

// columnIndex maps every required column to its position in header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %q, got %q", missing, header)
	}
	return idx, nil
}

// parseLane drops "total" rows and anything that is not a non-negative number.
func parseLane(s string) (int, bool) {
	if strings.EqualFold(s, "total") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// parseCount rounds to the nearest integer; junk and negatives become 0 and
// values above the int32 column range saturate.
func parseCount(s string) int {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Round(v))
}

// parsePercent clamps to [0, 100] and rounds half-up to two decimals.
func parsePercent(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(100, v))
	return roundHalfUp2(v)
}

// roundHalfUp2 rounds a non-negative v on its shortest decimal form, so 87.455
// becomes 87.46 even though its binary value is slightly below.
func roundHalfUp2(v float64) float64 {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'f', -1, 64))
	if !ok {
		return math.Round(v*100) / 100
	}
	r.Mul(r, big.NewRat(100, 1))
	r.Add(r, big.NewRat(1, 2))
	cents := new(big.Int).Quo(r.Num(), r.Denom())
	out, _ := new(big.Rat).SetFrac(cents, big.NewInt(100)).Float64()
	return out
}
