package engine

import (
	"context"
	"fmt"

	"adreel/internal/model"
)

// Generator 产出一个候选产物。上下文（主题、场景、契约）在构造包装器时
// 绑定，调用只携带上一轮评审反馈，首轮反馈为空串
type Generator[T any] interface {
	Produce(ctx context.Context, priorFeedback string) (T, error)
}

// Critic 评审一个候选产物，返回分数和修改意见
type Critic[T any] interface {
	Evaluate(ctx context.Context, candidate T) (score float64, feedback string, err error)
}

// RefineConfig 精修循环参数
type RefineConfig struct {
	MaxIterations int
	PassThreshold float64
	Retry         RetryConfig
}

// RefineResult 精修结果。Accepted=false表示预算耗尽后带着最高分产物
// 继续向前（质量不达标不是错误）
type RefineResult[T any] struct {
	Artifact T
	Score    float64
	Accepted bool
	Attempts []model.RefinementAttempt
}

// Refine 驱动生成→评审循环直到过线或预算耗尽。
// 过线立即返回；耗尽时返回历史最高分的尝试（同分取先出现者，保证确定性）。
// 单次调用内的瞬时错误先在Retry里消化；仍失败则算一次硬失败，
// 消耗一个迭代名额；最后一个名额上的硬失败使整个阶段失败。
// Fatal错误不消耗名额，立即上抛。
func Refine[T any](ctx context.Context, cfg RefineConfig, gen Generator[T], critic Critic[T]) (*RefineResult[T], error) {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}

	res := &RefineResult[T]{}
	var (
		feedback  string
		bestSet   bool
		best      T
		bestScore float64
	)

	for attempt := 1; attempt <= cfg.MaxIterations; attempt++ {
		fb := feedback
		artifact, err := Retry(ctx, cfg.Retry, func(ctx context.Context) (T, error) {
			return gen.Produce(ctx, fb)
		})
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("generator attempt %d: %w", attempt, err)
			}
			res.Attempts = append(res.Attempts, model.RefinementAttempt{
				AttemptNumber: attempt,
				Feedback:      fmt.Sprintf("generator error: %v", err),
			})
			if attempt == cfg.MaxIterations {
				return nil, fmt.Errorf("generator attempt %d (final): %w", attempt, err)
			}
			continue
		}

		score, critique, err := evaluateWithRetry(ctx, cfg.Retry, critic, artifact)
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("critic attempt %d: %w", attempt, err)
			}
			res.Attempts = append(res.Attempts, model.RefinementAttempt{
				AttemptNumber: attempt,
				Feedback:      fmt.Sprintf("critic error: %v", err),
			})
			if attempt == cfg.MaxIterations {
				return nil, fmt.Errorf("critic attempt %d (final): %w", attempt, err)
			}
			continue
		}

		accepted := score >= cfg.PassThreshold
		res.Attempts = append(res.Attempts, model.RefinementAttempt{
			AttemptNumber: attempt,
			Score:         score,
			Feedback:      critique,
			Accepted:      accepted,
		})

		if accepted {
			res.Artifact = artifact
			res.Score = score
			res.Accepted = true
			return res, nil
		}

		// 严格大于：同分保留先出现的尝试
		if !bestSet || score > bestScore {
			bestSet = true
			best = artifact
			bestScore = score
		}
		feedback = critique
	}

	if !bestSet {
		// 所有名额都被硬失败消耗的情况已在上面的final分支返回
		return nil, Fatalf("refine loop produced no scored attempt")
	}
	res.Artifact = best
	res.Score = bestScore
	res.Accepted = false
	return res, nil
}

func evaluateWithRetry[T any](ctx context.Context, cfg RetryConfig, critic Critic[T], candidate T) (float64, string, error) {
	type verdict struct {
		score    float64
		feedback string
	}
	v, err := Retry(ctx, cfg, func(ctx context.Context) (verdict, error) {
		s, f, err := critic.Evaluate(ctx, candidate)
		return verdict{score: s, feedback: f}, err
	})
	return v.score, v.feedback, err
}

// Cohesor 对完整有序场景列表做一次整体评审，标出不一致的场景下标
type Cohesor interface {
	Review(ctx context.Context, scenes []model.Scene) (score float64, feedback string, flagged []int, err error)
}

// SceneReviser 对被标记的场景重跑单场景精修循环，携带整体评审反馈。
// 契约本身从不重新生成，这是防止风格漂移的核心不变量
type SceneReviser func(ctx context.Context, scene model.Scene, feedback string) (model.Scene, error)

// CohesionResult 整体一致性评审结果
type CohesionResult struct {
	Scenes   []model.Scene
	Score    float64
	Accepted bool
	Attempts []model.RefinementAttempt
}

// CohesionPass 复用精修循环的形状，但评审对象是整个场景列表。
// 未过线时只重修被标记的场景，其余场景产物保持字节不变；
// 预算耗尽后回退到历史最高分的列表快照
func CohesionPass(ctx context.Context, cfg RefineConfig, cohesor Cohesor, scenes []model.Scene, revise SceneReviser) (*CohesionResult, error) {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}

	current := make([]model.Scene, len(scenes))
	copy(current, scenes)

	res := &CohesionResult{}
	var (
		bestSet   bool
		best      []model.Scene
		bestScore float64
	)

	for attempt := 1; attempt <= cfg.MaxIterations; attempt++ {
		score, feedback, flagged, err := reviewWithRetry(ctx, cfg.Retry, cohesor, current)
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("cohesor attempt %d: %w", attempt, err)
			}
			res.Attempts = append(res.Attempts, model.RefinementAttempt{
				AttemptNumber: attempt,
				Feedback:      fmt.Sprintf("cohesor error: %v", err),
			})
			if attempt == cfg.MaxIterations {
				return nil, fmt.Errorf("cohesor attempt %d (final): %w", attempt, err)
			}
			continue
		}

		accepted := score >= cfg.PassThreshold
		res.Attempts = append(res.Attempts, model.RefinementAttempt{
			AttemptNumber: attempt,
			Score:         score,
			Feedback:      feedback,
			Accepted:      accepted,
		})

		if accepted {
			res.Scenes = current
			res.Score = score
			res.Accepted = true
			return res, nil
		}

		if !bestSet || score > bestScore {
			bestSet = true
			best = make([]model.Scene, len(current))
			copy(best, current)
			bestScore = score
		}

		if attempt == cfg.MaxIterations || len(flagged) == 0 {
			// 没有可修的场景时继续循环只会得到同样的结论
			break
		}

		for _, idx := range flagged {
			if idx < 0 || idx >= len(current) {
				return nil, Fatalf("cohesor flagged invalid scene index %d", idx)
			}
			revised, err := revise(ctx, current[idx], feedback)
			if err != nil {
				return nil, fmt.Errorf("revise scene %d: %w", idx, err)
			}
			current[idx] = revised
		}
	}

	if !bestSet {
		return nil, Fatalf("cohesion pass produced no scored attempt")
	}
	res.Scenes = best
	res.Score = bestScore
	res.Accepted = false
	return res, nil
}

func reviewWithRetry(ctx context.Context, cfg RetryConfig, cohesor Cohesor, scenes []model.Scene) (float64, string, []int, error) {
	type verdict struct {
		score    float64
		feedback string
		flagged  []int
	}
	v, err := Retry(ctx, cfg, func(ctx context.Context) (verdict, error) {
		s, f, flagged, err := cohesor.Review(ctx, scenes)
		return verdict{score: s, feedback: f, flagged: flagged}, err
	})
	return v.score, v.feedback, v.flagged, err
}
