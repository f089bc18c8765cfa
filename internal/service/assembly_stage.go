package service

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/engine"
	"adreel/internal/model"
	"adreel/internal/stitcher"
)

// AssemblyStage 把成功场景的片段按下标顺序交给拼接工作器，
// 成片转存后写回聚合根
type AssemblyStage struct {
	svc *PipelineService
}

// AssemblyOutput Assembly阶段的checkpoint载荷
type AssemblyOutput struct {
	FinalVideoURL string `json:"final_video_url"`
	ClipCount     int    `json:"clip_count"`
}

func (st *AssemblyStage) Name() string   { return model.StageAssembly }
func (st *AssemblyStage) Status() string { return model.StatusAssembling }

func (st *AssemblyStage) Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error) {
	s := st.svc

	// 只收集有视频产物的场景，保持下标顺序
	var clips []string
	var transitions []string
	for i := range gen.Scenes {
		if gen.Scenes[i].VideoURL == "" {
			continue
		}
		clips = append(clips, gen.Scenes[i].VideoURL)
		transitions = append(transitions, gen.Scenes[i].Transition)
	}
	if len(clips) == 0 {
		return nil, engine.Fatalf("assembly stage has no clips to stitch")
	}

	stitchedURL, err := engine.Retry(ctx, s.retryConfig(), func(ctx context.Context) (string, error) {
		return s.stitcher.Stitch(ctx, stitcher.StitchRequest{
			GenerationID: gen.ID,
			ClipURLs:     clips,
			Transitions:  transitions,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("stitch: %w", err)
	}

	hosted, err := s.artifacts.Persist(ctx, stitchedURL,
		fmt.Sprintf("generations/%s/final.mp4", gen.ID))
	if err != nil {
		return nil, fmt.Errorf("persist final video: %w", err)
	}
	gen.FinalVideoURL = hosted
	s.log.Infof("final video ready: generation=%s clips=%d", gen.ID, len(clips))

	payload, err := json.Marshal(AssemblyOutput{FinalVideoURL: hosted, ClipCount: len(clips)})
	if err != nil {
		return nil, fmt.Errorf("marshal assembly output: %w", err)
	}
	return payload, nil
}
