package model

import (
	"time"
)

// ModelRegistryEntry registry row, provisioned outside this service
type ModelRegistryEntry struct {
	ID                    int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ModelName             string          `gorm:"column:model_name;type:varchar(255);not null;uniqueIndex" json:"model_name"`
	Sensors               JSONStringArray `gorm:"column:sensors;type:json" json:"sensors"`
	Features              JSONRaw         `gorm:"column:features;type:json" json:"features"` // ["f"] or [["f"], ["g"]]
	InputShape            JSONIntArray    `gorm:"column:input_shape;type:json" json:"input_shape"`
	URL                   string          `gorm:"column:url;type:varchar(1024)" json:"url"`
	Priority              *int            `gorm:"column:priority" json:"priority,omitempty"`
	Description           string          `gorm:"column:description;type:text" json:"description"`
	ExecutionRequirements string          `gorm:"column:execution_requirements;type:text" json:"execution_requirements"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (ModelRegistryEntry) TableName() string {
	return "model_registry"
}
