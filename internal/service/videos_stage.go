package service

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/engine"
	"adreel/internal/model"
	"adreel/internal/tools"
)

// VideosStage 独立广播扇出：每个场景在受限并发下先生成首尾帧
// （以参考图为条件），再创建生视频任务并轮询到产出。单个场景失败
// 不影响兄弟场景，阶段成败由最小成功数策略决定
type VideosStage struct {
	svc *PipelineService
}

// ClipResult 单个场景的视频产出
type ClipResult struct {
	Index    int    `json:"index"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VideosOutput Videos阶段的checkpoint载荷
type VideosOutput struct {
	Clips     []ClipResult `json:"clips"`
	Succeeded int          `json:"succeeded"`
}

func (st *VideosStage) Name() string   { return model.StageVideos }
func (st *VideosStage) Status() string { return model.StatusRunningVideos }

func (st *VideosStage) Run(ctx context.Context, gen *model.Generation) (json.RawMessage, error) {
	s := st.svc
	if gen.Contract == nil {
		return nil, engine.Fatalf("videos stage requires a materialized contract")
	}
	if len(gen.Scenes) == 0 {
		return nil, engine.Fatalf("videos stage requires scenes")
	}

	outcomes := engine.FanOut(ctx, len(gen.Scenes), s.pipe.VideoConcurrency,
		func(ctx context.Context, idx int) (model.Scene, error) {
			return st.renderScene(ctx, gen, gen.Scenes[idx])
		})

	clips := make([]ClipResult, len(outcomes))
	for _, o := range outcomes {
		clips[o.Index] = ClipResult{Index: o.Index}
		if o.Err != nil {
			clips[o.Index].Error = o.Err.Error()
			s.log.Errorf("scene %d video failed: generation=%s err=%v", o.Index, gen.ID, o.Err)
			continue
		}
		gen.Scenes[o.Index] = o.Value
		clips[o.Index].VideoURL = o.Value.VideoURL
	}

	succeeded := engine.CountSuccesses(outcomes)
	minSuccess := s.pipe.VideoMinSuccess
	if minSuccess <= 0 {
		minSuccess = len(gen.Scenes)
	}
	if succeeded < minSuccess {
		return nil, fmt.Errorf("videos stage: %d/%d scenes succeeded, need %d",
			succeeded, len(gen.Scenes), minSuccess)
	}

	payload, err := json.Marshal(VideosOutput{Clips: clips, Succeeded: succeeded})
	if err != nil {
		return nil, fmt.Errorf("marshal videos output: %w", err)
	}
	return payload, nil
}

// renderScene 首帧→尾帧→视频，帧产物必须先于视频产出
func (st *VideosStage) renderScene(ctx context.Context, gen *model.Generation, scene model.Scene) (model.Scene, error) {
	s := st.svc

	first, err := st.generateFrame(ctx, gen, &scene, "first",
		fmt.Sprintf("Opening frame of the shot: %s", scene.Description))
	if err != nil {
		return scene, fmt.Errorf("first frame: %w", err)
	}
	scene.FirstFrameURL = first

	last, err := st.generateFrame(ctx, gen, &scene, "last",
		fmt.Sprintf("Closing frame of the shot: %s", scene.Description))
	if err != nil {
		return scene, fmt.Errorf("last frame: %w", err)
	}
	scene.LastFrameURL = last

	args := tools.VideoToolArgs{
		Prompt:        gen.Contract.ScenePrompt(&scene, scene.Description),
		FirstFrameURL: scene.FirstFrameURL,
		LastFrameURL:  scene.LastFrameURL,
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return scene, fmt.Errorf("marshal video args: %w", err)
	}

	raw, err := engine.Retry(ctx, s.retryConfig(), func(ctx context.Context) (string, error) {
		return s.videoTool.InvokableRun(ctx, string(argsJSON))
	})
	if err != nil {
		return scene, err
	}
	var resp tools.VideoToolResp
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return scene, fmt.Errorf("decode video tool response: %w", err)
	}

	hosted, err := s.artifacts.Persist(ctx, resp.VideoURL,
		fmt.Sprintf("generations/%s/clips/scene_%02d.mp4", gen.ID, scene.Index))
	if err != nil {
		return scene, fmt.Errorf("persist clip: %w", err)
	}
	if err := scene.SetVideoURL(hosted); err != nil {
		return scene, err
	}
	s.log.Infof("clip ready: generation=%s scene=%d", gen.ID, scene.Index)
	return scene, nil
}

func (st *VideosStage) generateFrame(ctx context.Context, gen *model.Generation, scene *model.Scene, which, body string) (string, error) {
	s := st.svc
	args := tools.ImageToolArgs{
		Prompt: gen.Contract.ScenePrompt(scene, body),
		Max:    1,
	}
	if scene.ReferenceImageURL != "" {
		args.Images = []string{scene.ReferenceImageURL}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal image args: %w", err)
	}
	raw, err := engine.Retry(ctx, s.retryConfig(), func(ctx context.Context) (string, error) {
		return s.imageTool.InvokableRun(ctx, string(argsJSON))
	})
	if err != nil {
		return "", err
	}
	var resp tools.ImageToolResp
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("decode image tool response: %w", err)
	}
	if len(resp.Images) == 0 {
		return "", engine.Transientf("image tool returned no images")
	}
	return s.artifacts.Persist(ctx, resp.Images[0],
		fmt.Sprintf("generations/%s/frames/scene_%02d_%s.png", gen.ID, scene.Index, which))
}
