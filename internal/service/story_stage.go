package service

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/agents"
	"adreel/internal/engine"
	"adreel/internal/model"
)

// StoryStage 导演/剧本评审循环产出广告叙事、场景骨架与风格块，
// 并在首次通过时物化一致性契约
type StoryStage struct {
	svc *PipelineService
}

// StoryOutput Story阶段的checkpoint载荷
type StoryOutput struct {
	Narrative string                    `json:"narrative"`
	Scenes    []agents.SceneOutline     `json:"scenes"`
	Style     agents.StyleBlock         `json:"style"`
	Score     float64                   `json:"score"`
	Accepted  bool                      `json:"accepted"`
	Attempts  []model.RefinementAttempt `json:"attempts"`
}

func (st *StoryStage) Name() string   { return model.StageStory }
func (st *StoryStage) Status() string { return model.StatusRunningStory }

func (st *StoryStage) Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error) {
	s := st.svc
	director := agents.NewDirector(s.llm, gen.Prompt, s.pipe.SceneCount)
	critic := agents.NewStoryCritic(s.llm, gen.Prompt)

	res, err := engine.Refine(ctx, engine.RefineConfig{
		MaxIterations: s.pipe.StoryMaxIterations,
		PassThreshold: s.pipe.StoryPassThreshold,
		Retry:         s.retryConfig(),
	}, director, critic)
	if err != nil {
		return nil, err
	}
	gen.CurrentStageAttempt = len(res.Attempts)
	if !res.Accepted {
		s.log.Warnf("story budget exhausted for %s, proceeding with best score %.1f", gen.ID, res.Score)
	}

	draft := res.Artifact

	// 契约只物化一次：断点续跑进来时已有契约就直接复用
	if gen.Contract == nil {
		gen.Contract = &model.Contract{
			Style:       draft.Style.Style,
			Palette:     draft.Style.Palette,
			Lighting:    draft.Style.Lighting,
			Composition: draft.Style.Composition,
			Mood:        draft.Style.Mood,
			Subject:     draft.Style.Subject,
		}
	}

	gen.Scenes = make(model.SceneList, len(draft.Scenes))
	for i, o := range draft.Scenes {
		gen.Scenes[i] = model.Scene{
			Index:           i,
			Title:           o.Title,
			Outline:         o.Outline,
			SubjectPresence: o.SubjectPresence,
			Transition:      o.Transition,
		}
	}

	out := StoryOutput{
		Narrative: draft.Narrative,
		Scenes:    draft.Scenes,
		Style:     draft.Style,
		Score:     res.Score,
		Accepted:  res.Accepted,
		Attempts:  res.Attempts,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal story output: %w", err)
	}
	return payload, nil
}
