// Package registry provides the read-only model registry clients.
package registry

import (
	"fmt"

	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"
	mysqlstore "senseflow/pkg/store/mysql"
)

// CreateModelRegistry creates the configured registry provider
func CreateModelRegistry(cfg *config.Config, repo *mysqlstore.Repository) (interfaces.ModelRegistry, error) {
	switch cfg.Registry.Provider {
	case "mysql", "":
		if repo == nil {
			return nil, fmt.Errorf("mysql registry requires a mysql repository")
		}
		return NewMySQLRegistry(repo.Models), nil
	case "file":
		return NewFileRegistry(cfg.Registry.Path)
	default:
		return nil, fmt.Errorf("unsupported registry provider type: %s", cfg.Registry.Provider)
	}
}
