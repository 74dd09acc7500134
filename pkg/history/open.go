package history

import (
	"fmt"

	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/database"
)

// Open connects the history backend selected in the configuration.
func Open(cfg config.History) (Store, error) {
	switch cfg.Backend {
	case "postgres", "sqlite":
		db, err := database.OpenSQL(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, err
		}

		return NewSQLStore(db, cfg.Backend)
	case "mongo":
		if err := database.ConnectMongoDB(); err != nil {
			return nil, err
		}

		return NewMongoStore(database.MongoGlobalInstance.Database, database.VehiclePositionsCollection), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
