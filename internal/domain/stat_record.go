package domain

import "time"

// StatRecord is one canonical per-lane detection statistic row.
// The composite unique index mirrors the upsert conflict target.
type StatRecord struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	Version     string    `gorm:"column:od_version;type:text;not null;uniqueIndex:idx_stop_bar_detail_key,priority:1" json:"version"`
	Platform    string    `gorm:"column:plat_form;type:text;not null;uniqueIndex:idx_stop_bar_detail_key,priority:2" json:"platform"`
	Scene       string    `gorm:"column:scene_name;type:text;not null;uniqueIndex:idx_stop_bar_detail_key,priority:3" json:"scene"`
	Direction   string    `gorm:"column:direction;type:text;not null;uniqueIndex:idx_stop_bar_detail_key,priority:4" json:"direction"`
	Lane        int       `gorm:"column:lane;not null;uniqueIndex:idx_stop_bar_detail_key,priority:5" json:"lane"`
	GroundTruth int       `gorm:"column:ground_truth;not null;default:0" json:"ground_truth"`
	TP          int       `gorm:"column:tp;not null;default:0" json:"tp"`
	FP          int       `gorm:"column:fp;not null;default:0" json:"fp"`
	FN          int       `gorm:"column:fn;not null;default:0" json:"fn"`
	Precision   float64   `gorm:"column:precision;type:numeric(5,2);not null;default:0" json:"precision"`
	Recall      float64   `gorm:"column:recall;type:numeric(5,2);not null;default:0" json:"recall"`
	Time        time.Time `gorm:"column:od_time;not null;uniqueIndex:idx_stop_bar_detail_key,priority:6" json:"time"`
	CreatedAt   time.Time `gorm:"column:create_time;autoCreateTime" json:"-"`
	UpdatedAt   time.Time `gorm:"column:update_time;autoUpdateTime" json:"-"`
}

// TableName returns the database table name for StatRecord.
func (StatRecord) TableName() string {
	return "stop_bar_detail"
}

// StatKey is the business key of a StatRecord.
type StatKey struct {
	Version   string
	Platform  string
	Scene     string
	Direction string
	Lane      int
	Time      int64 // unix seconds
}

// Key returns the record's uniqueness key.
func (r *StatRecord) Key() StatKey {
	return StatKey{
		Version:   r.Version,
		Platform:  r.Platform,
		Scene:     r.Scene,
		Direction: r.Direction,
		Lane:      r.Lane,
		Time:      r.Time.Unix(),
	}
}

// DedupeStatRecords keeps the last record for each business key, preserving first-seen order.
// A single INSERT ... ON CONFLICT statement may not touch the same key twice.
func DedupeStatRecords(records []StatRecord) []StatRecord {
	index := make(map[StatKey]int, len(records))
	out := make([]StatRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
