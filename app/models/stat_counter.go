package models

import "time"

// StatCounter is the flush target for Redis-buffered telemetry counters.
// One row per day and metric name.
type StatCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      string    `gorm:"type:char(10);not null;index:ux_stat_counters_date_metric,unique,priority:1" json:"date"`
	Metric    string    `gorm:"type:varchar(100);not null;index:ux_stat_counters_date_metric,unique,priority:2" json:"metric"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
