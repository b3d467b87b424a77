// Package store implements the C1 Execution Store contract against two
// pluggable backends: an embedded badgerhold store (dev) and PostgreSQL
// (production), selected by DATABASE_URL per spec.md §6.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// executionRow is the badgerhold-tagged persistence shape of an ExecutionRecord.
type executionRow struct {
	ID           string `badgerhold:"key"`
	JobID        string `badgerholdUnique:"JobID"`
	PipelineName string `badgerholdIndex:"PipelineName"`
	Status       string `badgerholdIndex:"Status"`
	CreatedAt    time.Time `badgerholdIndex:"CreatedAt"`
	Record       *models.ExecutionRecord
}

// statsRow is the badgerhold-tagged persistence shape of PipelineStats.
type statsRow struct {
	PipelineName string `badgerhold:"key"`
	Stats        *models.PipelineStats
}

// EmbeddedStore is the badgerhold-backed embedded Execution Store.
type EmbeddedStore struct {
	store *badger.Store
	logger *common.Logger

	mu    sync.Mutex // advisory lock serializing terminal stats updates across all pipelines
}

// NewEmbeddedStore opens (creating if needed) a badgerhold store at path.
func NewEmbeddedStore(logger *common.Logger, path string) (*EmbeddedStore, error) {
	s, err := badger.NewStore(logger, path)
	if err != nil {
		return nil, err
	}
	return &EmbeddedStore{store: s, logger: logger}, nil
}

func (s *EmbeddedStore) Insert(ctx context.Context, record *models.ExecutionRecord) error {
	db := s.store.DB()

	var existing executionRow
	if err := db.Get(record.ID, &existing); err == nil {
		return dperrors.NewDuplicateID(record.ID)
	}
	var byJobID []executionRow
	if err := db.Find(&byJobID, badgerhold.Where("JobID").Eq(record.JobID)); err == nil && len(byJobID) > 0 {
		return dperrors.NewDuplicateID(record.JobID)
	}

	row := executionRow{
		ID:           record.ID,
		JobID:        record.JobID,
		PipelineName: record.PipelineName,
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt,
		Record:       record,
	}
	return db.Insert(record.ID, &row)
}

func (s *EmbeddedStore) UpdateStatus(ctx context.Context, id string, newStatus models.Status, patch map[string]any) error {
	db := s.store.DB()

	var row executionRow
	if err := db.Get(id, &row); err != nil {
		return dperrors.NewNotFound(id)
	}

	current := models.Status(row.Status)
	if !current.CanTransitionTo(newStatus) {
		return dperrors.NewIllegalTransition(string(current), string(newStatus))
	}

	applyPatch(row.Record, patch)
	row.Record.Status = newStatus
	row.Status = string(newStatus)

	if err := db.Update(id, &row); err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		if err := s.updateStatsLocked(ctx, row.Record); err != nil {
			return err
		}
	}
	return nil
}

func (s *EmbeddedStore) updateStatsLocked(ctx context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.store.DB()
	var row statsRow
	err := db.Get(record.PipelineName, &row)
	if err != nil {
		row = statsRow{PipelineName: record.PipelineName, Stats: &models.PipelineStats{PipelineName: record.PipelineName}}
	}

	now := time.Now()
	row.Stats.ApplyTerminal(record.Status, record.ExecutionTimeMS, record.TokensUsed, now)

	if err != nil {
		return db.Insert(record.PipelineName, &row)
	}
	return db.Update(record.PipelineName, &row)
}

func (s *EmbeddedStore) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var row executionRow
	if err := s.store.DB().Get(id, &row); err != nil {
		return nil, dperrors.NewNotFound(id)
	}
	return row.Record, nil
}

func (s *EmbeddedStore) GetByJobID(ctx context.Context, jobID string) (*models.ExecutionRecord, error) {
	var rows []executionRow
	if err := s.store.DB().Find(&rows, badgerhold.Where("JobID").Eq(jobID)); err != nil || len(rows) == 0 {
		return nil, dperrors.NewNotFound(jobID)
	}
	return rows[0].Record, nil
}

func (s *EmbeddedStore) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionRecord, error) {
	var query *badgerhold.Query
	if filter.PipelineName != "" {
		query = badgerhold.Where("PipelineName").Eq(filter.PipelineName)
	}
	if filter.Status != "" {
		if query == nil {
			query = badgerhold.Where("Status").Eq(string(filter.Status))
		} else {
			query = query.And("Status").Eq(string(filter.Status))
		}
	}
	var rows []executionRow
	var err error
	if query == nil {
		err = s.store.DB().Find(&rows, nil)
	} else {
		err = s.store.DB().Find(&rows, query)
	}
	if err != nil {
		return nil, err
	}

	var records []*models.ExecutionRecord
	for _, r := range rows {
		if filter.UserID != "" && r.Record.UserID != filter.UserID {
			continue
		}
		records = append(records, r.Record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	limit := filter.LimitOrDefault()
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *EmbeddedStore) Stats(ctx context.Context, pipelineName string) (*models.PipelineStats, error) {
	var row statsRow
	if err := s.store.DB().Get(pipelineName, &row); err != nil {
		return &models.PipelineStats{PipelineName: pipelineName}, nil
	}
	return row.Stats, nil
}

func (s *EmbeddedStore) ListStats(ctx context.Context) ([]*models.PipelineStats, error) {
	var rows []statsRow
	if err := s.store.DB().Find(&rows, nil); err != nil {
		return nil, err
	}
	stats := make([]*models.PipelineStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, r.Stats)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].TotalExecutions > stats[j].TotalExecutions
	})
	return stats, nil
}

func (s *EmbeddedStore) Close() error {
	return s.store.Close()
}

// applyPatch merges a sparse field patch into an ExecutionRecord. Keys
// match the JSON tags used over the wire and in executor code.
func applyPatch(record *models.ExecutionRecord, patch map[string]any) {
	for k, v := range patch {
		switch k {
		case "startedAt":
			if t, ok := v.(time.Time); ok {
				record.StartedAt = &t
			}
		case "completedAt":
			if t, ok := v.(time.Time); ok {
				record.CompletedAt = &t
			}
		case "outputPath":
			record.OutputPath, _ = v.(string)
		case "userOutputPath":
			record.UserOutputPath, _ = v.(string)
		case "bundlePath":
			record.BundlePath, _ = v.(string)
		case "error":
			record.Error, _ = v.(string)
		case "processorMetadata":
			record.ProcessorMetadata, _ = v.(models.ProcessorMetadata)
		case "llmMetadata":
			record.LLMMetadata, _ = v.(*models.LLMMetadata)
		case "executionTime":
			record.ExecutionTimeMS, _ = v.(int64)
		case "tokensUsed":
			record.TokensUsed, _ = v.(int)
		case "inputs":
			record.Inputs, _ = v.(map[string]any)
		}
	}
	if record.StartedAt != nil && record.CompletedAt != nil && record.ExecutionTimeMS == 0 {
		record.ExecutionTimeMS = record.CompletedAt.Sub(*record.StartedAt).Milliseconds()
	}
}
