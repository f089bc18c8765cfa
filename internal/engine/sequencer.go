package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"adreel/internal/model"
)

// Store 阶段边界上的持久化协作方。调度器视其为同步且持久的：
// 阶段N的产物先落库，阶段N+1才开始读取
type Store interface {
	LoadGeneration(ctx context.Context, id string) (*model.Generation, error)
	SaveGeneration(ctx context.Context, gen *model.Generation) error
	SaveStageOutput(ctx context.Context, generationID, stage string, artifact json.RawMessage) error
}

// EventSink 阶段完成事件的出口，fire-and-forget，订阅方按至少一次消费
type EventSink interface {
	Emit(generationID, stage, eventType string, payload interface{})
}

// Scorer 后台评分入口，永不阻塞调度器，也永不使Generation失败
type Scorer interface {
	ScoreAsync(generationID, stage string, artifact json.RawMessage)
}

// Stage 流水线中的一个阶段。Run返回该阶段被接受产物的checkpoint载荷，
// 并可就地修改聚合根（场景列表、契约等）
type Stage interface {
	Name() string
	// Status 阶段执行期间聚合根应处的状态
	Status() string
	Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error)
}

// 事件类型
const (
	EventStageCompleted      = "stage_completed"
	EventStageFailed         = "stage_failed"
	EventGenerationCompleted = "generation_completed"
	EventGenerationCancelled = "generation_cancelled"
)

// StageFailure 业务性阶段失败：failed终态已经落库。
// 队列消费方据此区分"不要重投递"与"基础设施错误、终态未写入、需要重投递"
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// Sequencer 阶段状态机。严格向前推进（整体一致性触发的局部重修
// 发生在Scenes阶段内部，不回退状态机）。单个Generation同一时刻
// 只有一个Sequencer实例在推进，进程整体并发运行多个Generation。
type Sequencer struct {
	store  Store
	events EventSink
	scorer Scorer
	stages []Stage
	log    *logrus.Entry
}

func NewSequencer(store Store, events EventSink, scorer Scorer, stages []Stage) *Sequencer {
	return &Sequencer{
		store:  store,
		events: events,
		scorer: scorer,
		stages: stages,
		log:    logrus.WithField("component", "sequencer"),
	}
}

// Run 推进一个Generation直到终态。中断后再次调用即从第一个
// 缺少产物的阶段续跑，已物化的契约直接复用而不重新计算。
func (s *Sequencer) Run(ctx context.Context, generationID string) error {
	gen, err := s.store.LoadGeneration(ctx, generationID)
	if err != nil {
		return fmt.Errorf("load generation: %w", err)
	}
	if model.IsTerminal(gen.Status) {
		s.log.WithField("generation", gen.ID).Infof("already terminal: %s", gen.Status)
		return nil
	}

	for _, stage := range s.stages {
		cancelled, err := s.cancellationRequested(ctx, gen)
		if err != nil {
			return err
		}
		if cancelled {
			return s.cancel(ctx, gen, stage.Name())
		}

		// 断点续跑：已有产物的阶段不再执行
		if gen.HasStageOutput(stage.Name()) {
			continue
		}

		gen.Status = stage.Status()
		gen.CurrentStageAttempt = 0
		if err := s.store.SaveGeneration(ctx, gen); err != nil {
			return fmt.Errorf("save status %s: %w", gen.Status, err)
		}
		s.log.WithField("generation", gen.ID).Infof("stage %s started", stage.Name())

		output, err := stage.Run(ctx, gen)
		if err != nil {
			return s.fail(ctx, gen, stage.Name(), err)
		}

		// 先落聚合根再落checkpoint：两次写之间崩溃时checkpoint缺失、
		// 聚合根完整，重投递会安全地重跑该阶段（契约复用有守卫）。
		// 反过来写则断点续跑会带着残缺的聚合根跳过该阶段
		if err := s.store.SaveGeneration(ctx, gen); err != nil {
			return fmt.Errorf("save generation after %s: %w", stage.Name(), err)
		}
		if gen.StageOutputs == nil {
			gen.StageOutputs = model.StageOutputs{}
		}
		gen.StageOutputs[stage.Name()] = output
		if err := s.store.SaveStageOutput(ctx, gen.ID, stage.Name(), output); err != nil {
			return fmt.Errorf("save stage output %s: %w", stage.Name(), err)
		}

		s.events.Emit(gen.ID, stage.Name(), EventStageCompleted, json.RawMessage(output))
		s.scorer.ScoreAsync(gen.ID, stage.Name(), output)
		s.log.WithField("generation", gen.ID).Infof("stage %s completed", stage.Name())
	}

	// 完成也是一次迁移，同样要过取消边界
	cancelled, err := s.cancellationRequested(ctx, gen)
	if err != nil {
		return err
	}
	if cancelled {
		return s.cancel(ctx, gen, "")
	}

	gen.Status = model.StatusCompleted
	if err := s.store.SaveGeneration(ctx, gen); err != nil {
		return fmt.Errorf("save completed: %w", err)
	}
	s.events.Emit(gen.ID, "", EventGenerationCompleted, map[string]interface{}{
		"final_video_url": gen.FinalVideoURL,
	})
	s.log.WithField("generation", gen.ID).Info("generation completed")
	return nil
}

// cancellationRequested 在阶段边界重读持久化的取消标记。
// 取消只在边界生效：在途的外部调用允许跑完，避免留下远端孤儿资源
func (s *Sequencer) cancellationRequested(ctx context.Context, gen *model.Generation) (bool, error) {
	fresh, err := s.store.LoadGeneration(ctx, gen.ID)
	if err != nil {
		return false, fmt.Errorf("refresh cancellation flag: %w", err)
	}
	gen.CancellationRequested = fresh.CancellationRequested
	return gen.CancellationRequested, nil
}

// cancel 迁移到cancelled。已落库的阶段产物保持原样，从不回滚
func (s *Sequencer) cancel(ctx context.Context, gen *model.Generation, atStage string) error {
	gen.Status = model.StatusCancelled
	if err := s.store.SaveGeneration(ctx, gen); err != nil {
		return fmt.Errorf("save cancelled: %w", err)
	}
	s.events.Emit(gen.ID, atStage, EventGenerationCancelled, nil)
	s.log.WithField("generation", gen.ID).Info("generation cancelled")
	return nil
}

// fail 迁移到failed，记录失败阶段与可读原因，保留此前所有阶段产物。
// 终态落库成功才返回StageFailure；落库本身失败按基础设施错误上抛
func (s *Sequencer) fail(ctx context.Context, gen *model.Generation, stage string, cause error) error {
	gen.Status = model.StatusFailed
	gen.FailureStage = stage
	gen.FailureReason = cause.Error()
	if err := s.store.SaveGeneration(ctx, gen); err != nil {
		return fmt.Errorf("save failed state: %w (stage error: %v)", err, cause)
	}
	s.events.Emit(gen.ID, stage, EventStageFailed, map[string]interface{}{
		"reason": cause.Error(),
	})
	s.log.WithField("generation", gen.ID).Errorf("stage %s failed: %v", stage, cause)
	return &StageFailure{Stage: stage, Err: cause}
}
