package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"textbook-rag/internal/model"
)

const chunkInsertBatch = 200

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceSource swaps every chunk of sourceID for chunks in one transaction.
func (r *ChunkRepository) ReplaceSource(ctx context.Context, sourceID string, chunks []model.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", sourceID).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete chunks of source failed: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(chunks, chunkInsertBatch).Error; err != nil {
			return fmt.Errorf("create chunks batch failed: %w", err)
		}
		return nil
	})
}

func (r *ChunkRepository) ChunkIDsBySource(ctx context.Context, sourceID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Chunk{}).Where("source_id = ?", sourceID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list chunk ids failed: %w", err)
	}
	return ids, nil
}

func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("get chunks by ids failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) ListSources(ctx context.Context) ([]string, error) {
	var sources []string
	if err := r.db.WithContext(ctx).Model(&model.Chunk{}).Distinct("source_id").Order("source_id").Pluck("source_id", &sources).Error; err != nil {
		return nil, fmt.Errorf("list sources failed: %w", err)
	}
	return sources, nil
}
