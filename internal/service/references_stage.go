package service

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/engine"
	"adreel/internal/model"
	"adreel/internal/tools"
)

// ReferencesStage 顺链生成参考图：场景k的生图以契约提示词+场景k-1的
// 参考图为条件，保证相邻场景的视觉延续。链式依赖意味着任何一环失败
// 整个阶段失败，没有部分成功可言
type ReferencesStage struct {
	svc *PipelineService
}

// ReferencesOutput References阶段的checkpoint载荷
type ReferencesOutput struct {
	ReferenceImageURLs []string `json:"reference_image_urls"`
}

func (st *ReferencesStage) Name() string   { return model.StageReferences }
func (st *ReferencesStage) Status() string { return model.StatusRunningReferences }

func (st *ReferencesStage) Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error) {
	s := st.svc
	if gen.Contract == nil {
		return nil, engine.Fatalf("references stage requires a materialized contract")
	}
	if len(gen.Scenes) == 0 {
		return nil, engine.Fatalf("references stage requires scenes")
	}

	urls := make([]string, len(gen.Scenes))
	prev := ""
	for i := range gen.Scenes {
		scene := &gen.Scenes[i]
		prompt := gen.Contract.ScenePrompt(scene, fmt.Sprintf("Reference keyframe for ad scene %d: %s. %s", i+1, scene.Title, scene.Outline))

		args := tools.ImageToolArgs{Prompt: prompt, Max: 1}
		if prev != "" {
			args.Images = []string{prev}
		}
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal image args: %w", err)
		}

		raw, err := engine.Retry(ctx, s.retryConfig(), func(ctx context.Context) (string, error) {
			return s.imageTool.InvokableRun(ctx, string(argsJSON))
		})
		if err != nil {
			return nil, fmt.Errorf("reference image scene %d: %w", i, err)
		}

		var resp tools.ImageToolResp
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("decode image tool response scene %d: %w", i, err)
		}
		if len(resp.Images) == 0 {
			return nil, engine.Transientf("image tool returned no images for scene %d", i)
		}

		hosted, err := s.artifacts.Persist(ctx, resp.Images[0],
			fmt.Sprintf("generations/%s/references/scene_%02d.png", gen.ID, i))
		if err != nil {
			return nil, fmt.Errorf("persist reference image scene %d: %w", i, err)
		}

		scene.ReferenceImageURL = hosted
		urls[i] = hosted
		prev = hosted
		s.log.Infof("reference image ready: generation=%s scene=%d", gen.ID, i)
	}

	payload, err := json.Marshal(ReferencesOutput{ReferenceImageURLs: urls})
	if err != nil {
		return nil, fmt.Errorf("marshal references output: %w", err)
	}
	return payload, nil
}
