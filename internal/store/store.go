package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"adreel/internal/model"
)

// GormStore 阶段边界上的持久化协作方实现，
// 同时承担取消标记的写入与轮询读取
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateGeneration(ctx context.Context, gen *model.Generation) error {
	if gen.StageOutputs == nil {
		gen.StageOutputs = model.StageOutputs{}
	}
	return s.db.WithContext(ctx).Create(gen).Error
}

func (s *GormStore) LoadGeneration(ctx context.Context, id string) (*model.Generation, error) {
	var gen model.Generation
	if err := s.db.WithContext(ctx).First(&gen, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("generation %s: %w", id, err)
	}
	return &gen, nil
}

func (s *GormStore) SaveGeneration(ctx context.Context, gen *model.Generation) error {
	gen.UpdatedAt = time.Now()
	// 取消标记只由RequestCancellation写入，调度器快照不允许覆盖它
	return s.db.WithContext(ctx).Omit("cancellation_requested", "created_at").Save(gen).Error
}

// SaveStageOutput 把已接受的阶段产物写进checkpoint映射。
// 单独更新stage_outputs列，不触碰调用方内存里的其他字段
func (s *GormStore) SaveStageOutput(ctx context.Context, generationID, stage string, artifact json.RawMessage) error {
	gen, err := s.LoadGeneration(ctx, generationID)
	if err != nil {
		return err
	}
	if gen.StageOutputs == nil {
		gen.StageOutputs = model.StageOutputs{}
	}
	gen.StageOutputs[stage] = artifact
	return s.db.WithContext(ctx).Model(&model.Generation{}).
		Where("id = ?", generationID).
		Updates(map[string]interface{}{
			"stage_outputs": gen.StageOutputs,
			"updated_at":    time.Now(),
		}).Error
}

// RequestCancellation 外部调用方设置取消标记，调度器在阶段边界轮询到后停止
func (s *GormStore) RequestCancellation(ctx context.Context, generationID string) error {
	res := s.db.WithContext(ctx).Model(&model.Generation{}).
		Where("id = ?", generationID).
		Updates(map[string]interface{}{
			"cancellation_requested": true,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveStageScore 后台评分结果，score为空表示评分失败
func (s *GormStore) SaveStageScore(ctx context.Context, generationID, stage string, score *float64, probeErr string) error {
	return s.db.WithContext(ctx).Create(&model.StageScore{
		GenerationID: generationID,
		Stage:        stage,
		Score:        score,
		Error:        probeErr,
		CreatedAt:    time.Now(),
	}).Error
}

func (s *GormStore) ListStageScores(ctx context.Context, generationID string) ([]model.StageScore, error) {
	var scores []model.StageScore
	err := s.db.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at asc").
		Find(&scores).Error
	return scores, err
}
