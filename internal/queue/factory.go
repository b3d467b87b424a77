package queue

import (
	"context"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

// NewFromConfig selects the embedded or Redis backend per spec.md §6:
// Redis is used when REDIS_HOST (config.Queue.RedisHost) is set, otherwise
// the embedded badgerhold-backed queue under workspace/queue.
func NewFromConfig(ctx context.Context, cfg *common.Config, logger *common.Logger) (interfaces.QueueAdapter, error) {
	if cfg.Queue.UsesRedis() {
		return NewRedisQueue(ctx, logger, cfg.Queue.RedisHost, cfg.Queue.RedisPort, cfg.Queue.RedisPassword)
	}
	return NewEmbeddedQueue(logger, cfg.Storage.Embedded.Path+"/queue")
}
