package mysql

import "senseflow/pkg/store/mysql/model"

type (
	// Database models
	QueueItem          = model.QueueItem
	ModelRegistryEntry = model.ModelRegistryEntry

	// Custom JSON types
	JSONStringArray = model.JSONStringArray
	JSONIntArray    = model.JSONIntArray
	JSONRaw         = model.JSONRaw
)
