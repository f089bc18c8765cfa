package service

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/agents"
	"adreel/internal/engine"
	"adreel/internal/model"
)

// ScenesStage 每个场景独立跑Writer/Critic精修循环（广播扇出），
// 然后对完整有序列表做整体一致性评审，只重修被标记的场景。
// 契约全程只读
type ScenesStage struct {
	svc *PipelineService
}

// SceneResult 单个场景的精修结果
type SceneResult struct {
	Index       int                       `json:"index"`
	Description string                    `json:"description"`
	Score       float64                   `json:"score"`
	Accepted    bool                      `json:"accepted"`
	Attempts    []model.RefinementAttempt `json:"attempts"`
}

// ScenesOutput Scenes阶段的checkpoint载荷
type ScenesOutput struct {
	Scenes           []SceneResult             `json:"scenes"`
	CohesionScore    float64                   `json:"cohesion_score"`
	CohesionAccepted bool                      `json:"cohesion_accepted"`
	CohesionAttempts []model.RefinementAttempt `json:"cohesion_attempts"`
}

func (st *ScenesStage) Name() string   { return model.StageScenes }
func (st *ScenesStage) Status() string { return model.StatusRunningScenes }

func (st *ScenesStage) Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error) {
	s := st.svc
	if gen.Contract == nil {
		return nil, engine.Fatalf("scenes stage requires a materialized contract")
	}
	if len(gen.Scenes) == 0 {
		return nil, engine.Fatalf("scenes stage requires scenes")
	}

	refineCfg := engine.RefineConfig{
		MaxIterations: s.pipe.SceneMaxIterations,
		PassThreshold: s.pipe.ScenePassThreshold,
		Retry:         s.retryConfig(),
	}

	// 广播扇出：场景之间互不依赖，单个失败不取消兄弟
	outcomes := engine.FanOut(ctx, len(gen.Scenes), s.pipe.VideoConcurrency,
		func(ctx context.Context, idx int) (*engine.RefineResult[string], error) {
			return st.refineScene(ctx, refineCfg, gen.Contract, gen.Scenes[idx])
		})

	results := make([]SceneResult, len(gen.Scenes))
	maxAttempts := 0
	for _, o := range outcomes {
		if o.Err != nil {
			// 场景描述是后续所有产物的输入，缺一个都无法继续
			return nil, fmt.Errorf("scene %d refinement: %w", o.Index, o.Err)
		}
		gen.Scenes[o.Index].Description = o.Value.Artifact
		if n := len(o.Value.Attempts); n > maxAttempts {
			maxAttempts = n
		}
		results[o.Index] = SceneResult{
			Index:       o.Index,
			Description: o.Value.Artifact,
			Score:       o.Value.Score,
			Accepted:    o.Value.Accepted,
			Attempts:    o.Value.Attempts,
		}
	}

	// 整体一致性评审，仅重修被标记的场景
	cohesor := agents.NewCohesor(s.llm, gen.Contract)
	cohRes, err := engine.CohesionPass(ctx, engine.RefineConfig{
		MaxIterations: s.pipe.CohesionMaxIterations,
		PassThreshold: s.pipe.CohesionThreshold,
		Retry:         s.retryConfig(),
	}, cohesor, gen.Scenes, func(ctx context.Context, scene model.Scene, feedback string) (model.Scene, error) {
		res, err := st.refineSceneWithFeedback(ctx, refineCfg, gen.Contract, scene, feedback)
		if err != nil {
			return scene, err
		}
		scene.Description = res.Artifact
		return scene, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cohesion pass: %w", err)
	}
	// 阶段消耗的精修轮数 = 最深的单场景循环 + 整体评审轮数
	gen.CurrentStageAttempt = maxAttempts + len(cohRes.Attempts)
	if !cohRes.Accepted {
		s.log.Warnf("cohesion budget exhausted for %s, proceeding with best score %.1f", gen.ID, cohRes.Score)
	}

	copy(gen.Scenes, cohRes.Scenes)
	for i := range gen.Scenes {
		results[i].Description = gen.Scenes[i].Description
	}

	payload, err := json.Marshal(ScenesOutput{
		Scenes:           results,
		CohesionScore:    cohRes.Score,
		CohesionAccepted: cohRes.Accepted,
		CohesionAttempts: cohRes.Attempts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scenes output: %w", err)
	}
	return payload, nil
}

func (st *ScenesStage) refineScene(ctx context.Context, cfg engine.RefineConfig, contract *model.Contract, scene model.Scene) (*engine.RefineResult[string], error) {
	writer := agents.NewSceneWriter(st.svc.llm, scene, contract)
	critic := agents.NewSceneCritic(st.svc.llm, scene, contract)
	return engine.Refine(ctx, cfg, writer, critic)
}

// refineSceneWithFeedback 一致性重修入口：把整体评审反馈作为首轮反馈
// 喂给单场景循环，契约保持不变
func (st *ScenesStage) refineSceneWithFeedback(ctx context.Context, cfg engine.RefineConfig, contract *model.Contract, scene model.Scene, cohesionFeedback string) (*engine.RefineResult[string], error) {
	writer := agents.NewSceneWriter(st.svc.llm, scene, contract)
	critic := agents.NewSceneCritic(st.svc.llm, scene, contract)
	return engine.Refine(ctx, cfg, &seededGenerator{inner: writer, seed: cohesionFeedback}, critic)
}

// seededGenerator 给生成方的第一次调用预置外部反馈
type seededGenerator struct {
	inner engine.Generator[string]
	seed  string
	used  bool
}

func (g *seededGenerator) Produce(ctx context.Context, priorFeedback string) (string, error) {
	if !g.used && priorFeedback == "" {
		g.used = true
		return g.inner.Produce(ctx, g.seed)
	}
	return g.inner.Produce(ctx, priorFeedback)
}
