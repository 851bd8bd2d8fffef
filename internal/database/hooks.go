package database

import (
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/shortage/internal/telemetry"
)

const startTimeKey = "shortage:start_time"

// RegisterMetricsHooks reports every statement to collector
func RegisterMetricsHooks(db *gorm.DB, collector *telemetry.Collector) {
	record := func(queryType string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			collector.RecordDatabaseQuery(queryType, tx.Error == nil || tx.Error == gorm.ErrRecordNotFound, getDuration(tx))
		}
	}

	db.Callback().Create().After("gorm:create").Register("metrics:create", record(telemetry.DBQueryTypeInsert))
	db.Callback().Query().After("gorm:query").Register("metrics:query", record(telemetry.DBQueryTypeSelect))
	db.Callback().Update().After("gorm:update").Register("metrics:update", record(telemetry.DBQueryTypeUpdate))
	db.Callback().Delete().After("gorm:delete").Register("metrics:delete", record(telemetry.DBQueryTypeDelete))
}

// RegisterDurationHooks stamps the start of every statement
func RegisterDurationHooks(db *gorm.DB) {
	db.Callback().Create().Before("gorm:create").Register("duration:create", markStart)
	db.Callback().Query().Before("gorm:query").Register("duration:query", markStart)
	db.Callback().Update().Before("gorm:update").Register("duration:update", markStart)
	db.Callback().Delete().Before("gorm:delete").Register("duration:delete", markStart)
}

func markStart(tx *gorm.DB) {
	tx.InstanceSet(startTimeKey, time.Now())
}

func getDuration(tx *gorm.DB) time.Duration {
	if start, ok := tx.InstanceGet(startTimeKey); ok {
		if t, ok := start.(time.Time); ok {
			return time.Since(t)
		}
	}
	return 0
}
