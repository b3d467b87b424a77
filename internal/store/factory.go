package store

import (
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

// NewFromConfig selects the Postgres or embedded backend per spec.md §6:
// Postgres is used when DATABASE_URL (config.Storage.DatabaseURL) carries
// a postgres(ql):// scheme, otherwise the embedded badgerhold-backed store
// under workspace/executions.
func NewFromConfig(cfg *common.Config, logger *common.Logger) (interfaces.ExecutionStore, error) {
	if cfg.Storage.UsesRelationalStore() {
		return NewPostgresStore(logger, cfg.Storage.DatabaseURL)
	}
	return NewEmbeddedStore(logger, cfg.Storage.Embedded.Path)
}
