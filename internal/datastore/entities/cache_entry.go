package entities

import "time"

// CacheEntry is one stored response inside a partition. KeyHash is the
// SHA-256 of Key so the unique index stays short on MySQL.
type CacheEntry struct {
	ID          uint      `gorm:"primaryKey"`
	PartitionID uint      `gorm:"not null;uniqueIndex:idx_cache_entry_partition_key,priority:1"`
	KeyHash     string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entry_partition_key,priority:2"`
	Key         string    `gorm:"column:cache_key;type:text;not null"`
	Status      int       `gorm:"not null;default:200"`
	Header      string    `gorm:"type:text"`
	Body        []byte    `gorm:"type:longblob"`
	StoredAt    time.Time `gorm:"not null"`
	Partition   Partition `gorm:"foreignKey:PartitionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
