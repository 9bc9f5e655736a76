package entities

import "time"

// Partition is a named cache partition such as "static-v3".
type Partition struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:191;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Partition) TableName() string {
	return "cache_partitions"
}
