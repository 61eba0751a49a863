package model

import (
	"time"
)

// QueueItem durable queue row
type QueueItem struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Payload   JSONRaw    `gorm:"column:payload;type:json;not null" json:"payload"`
	Claimed   bool       `gorm:"column:claimed;not null;default:false;index:idx_claimed_id,priority:1" json:"claimed"`
	CreatedAt time.Time  `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	ClaimedAt *time.Time `gorm:"column:claimed_at;index" json:"claimed_at,omitempty"`
}

// TableName specifies the table name
func (QueueItem) TableName() string {
	return "data_queue"
}
