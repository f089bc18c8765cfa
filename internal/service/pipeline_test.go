package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"adreel/internal/config"
	"adreel/internal/model"
	"adreel/internal/stitcher"
	"adreel/internal/tools"
)

// stubLLM 按系统指令内容分发脚本回复
type stubLLM struct {
	story    string
	verdict  string
	cohesion string
	scene    string
}

func (s *stubLLM) Generate(ctx context.Context, instruction, userPrompt string) (string, error) {
	switch {
	case strings.Contains(instruction, "creative director"):
		return s.story, nil
	case strings.Contains(instruction, "continuity supervisor"):
		return s.cohesion, nil
	case strings.Contains(instruction, "scene writer"):
		return s.scene, nil
	default:
		return s.verdict, nil
	}
}

// stubTool 可编程的eino工具
type stubTool struct {
	name  string
	calls []string
	run   func(args string) (string, error)
}

func (t *stubTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name}, nil
}

func (t *stubTool) InvokableRun(ctx context.Context, args string, opts ...einotool.Option) (string, error) {
	t.calls = append(t.calls, args)
	return t.run(args)
}

// stubArtifacts 不真的上传，只把对象名变成可识别的句柄
type stubArtifacts struct {
	persisted []string
}

func (a *stubArtifacts) Persist(ctx context.Context, sourceURL, objectName string) (string, error) {
	a.persisted = append(a.persisted, objectName)
	return "hosted/" + objectName, nil
}

type stubStitcher struct {
	req stitcher.StitchRequest
}

func (s *stubStitcher) Stitch(ctx context.Context, req stitcher.StitchRequest) (string, error) {
	s.req = req
	return "http://worker/final.mp4", nil
}

func testPipe() config.Pipeline {
	return config.Pipeline{
		SceneCount:             2,
		StoryMaxIterations:     2,
		StoryPassThreshold:     80,
		SceneMaxIterations:     2,
		ScenePassThreshold:     80,
		CohesionMaxIterations:  2,
		CohesionThreshold:      85,
		VideoConcurrency:       2,
		RetryMaxRetries:        1,
		RetryInitialIntervalMS: 1,
	}
}

func imageOK(args string) (string, error) {
	return `{"images":["http://ark/img.png"],"count":1}`, nil
}

func newTestService(llm *stubLLM, img, vid *stubTool, pipe config.Pipeline) (*PipelineService, *stubArtifacts, *stubStitcher) {
	arts := &stubArtifacts{}
	st := &stubStitcher{}
	return NewPipelineService(llm, img, vid, arts, st, pipe), arts, st
}

const storyJSON = `{
	"narrative": "a runner finds her stride",
	"scenes": [
		{"title": "Dawn run", "outline": "runner laces up at dawn", "subject_presence": "full", "transition": "cut"},
		{"title": "City blur", "outline": "empty street texture", "subject_presence": "none", "transition": "fade"}
	],
	"style": {"style": "cinematic", "palette": "teal and amber", "lighting": "soft rim", "composition": "centered", "mood": "aspirational", "subject": "white running shoe"}
}`

func TestStoryStagePopulatesScenesAndContract(t *testing.T) {
	llm := &stubLLM{story: storyJSON, verdict: `{"score": 92, "feedback": "good"}`}
	svc, _, _ := newTestService(llm, &stubTool{run: imageOK}, &stubTool{}, testPipe())

	gen := &model.Generation{ID: "g1", Prompt: "sneaker ad"}
	stage := &StoryStage{svc: svc}
	out, err := stage.Run(context.Background(), gen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.Contract == nil || gen.Contract.Subject != "white running shoe" {
		t.Fatalf("contract not materialized: %+v", gen.Contract)
	}
	if len(gen.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(gen.Scenes))
	}
	if gen.Scenes[1].SubjectPresence != model.SubjectNone {
		t.Fatalf("subject presence lost: %+v", gen.Scenes[1])
	}
	if gen.CurrentStageAttempt != 1 {
		t.Fatalf("first-try acceptance should report 1 attempt, got %d", gen.CurrentStageAttempt)
	}

	var payload StoryOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if !payload.Accepted || payload.Score != 92 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestStoryStageReusesExistingContract(t *testing.T) {
	llm := &stubLLM{story: storyJSON, verdict: `{"score": 92, "feedback": "good"}`}
	svc, _, _ := newTestService(llm, &stubTool{run: imageOK}, &stubTool{}, testPipe())

	existing := &model.Contract{Style: "hand-drawn", Palette: "pastel"}
	gen := &model.Generation{ID: "g2", Prompt: "sneaker ad", Contract: existing}
	if _, err := (&StoryStage{svc: svc}).Run(context.Background(), gen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 断点续跑语义：已物化的契约绝不重建
	if gen.Contract.Style != "hand-drawn" || gen.Contract.Palette != "pastel" {
		t.Fatalf("existing contract was regenerated: %+v", gen.Contract)
	}
}

func TestReferencesStageChainsConditioning(t *testing.T) {
	img := &stubTool{run: imageOK}
	svc, arts, _ := newTestService(&stubLLM{}, img, &stubTool{}, testPipe())

	gen := &model.Generation{
		ID:       "g3",
		Contract: &model.Contract{Style: "cinematic", Subject: "shoe"},
		Scenes: model.SceneList{
			{Index: 0, Title: "a", Outline: "oa", SubjectPresence: model.SubjectFull},
			{Index: 1, Title: "b", Outline: "ob", SubjectPresence: model.SubjectFull},
			{Index: 2, Title: "c", Outline: "oc", SubjectPresence: model.SubjectNone},
		},
	}
	if _, err := (&ReferencesStage{svc: svc}).Run(context.Background(), gen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(img.calls) != 3 {
		t.Fatalf("expected 3 sequential calls, got %d", len(img.calls))
	}
	var first tools.ImageToolArgs
	_ = json.Unmarshal([]byte(img.calls[0]), &first)
	if len(first.Images) != 0 {
		t.Fatalf("scene 0 must be unconditioned, got %v", first.Images)
	}
	for k := 1; k < 3; k++ {
		var args tools.ImageToolArgs
		_ = json.Unmarshal([]byte(img.calls[k]), &args)
		want := gen.Scenes[k-1].ReferenceImageURL
		if len(args.Images) != 1 || args.Images[0] != want {
			t.Fatalf("scene %d must be conditioned on scene %d image, got %v", k, k-1, args.Images)
		}
	}
	if len(arts.persisted) != 3 {
		t.Fatalf("all reference images must be re-hosted, got %d", len(arts.persisted))
	}
}

func TestReferencesStageFailsWholeChain(t *testing.T) {
	calls := 0
	img := &stubTool{run: func(args string) (string, error) {
		calls++
		if calls == 2 {
			return "", fmt.Errorf("image backend down")
		}
		return imageOK(args)
	}}
	svc, _, _ := newTestService(&stubLLM{}, img, &stubTool{}, testPipe())

	gen := &model.Generation{
		ID:       "g4",
		Contract: &model.Contract{Style: "cinematic"},
		Scenes: model.SceneList{
			{Index: 0, Outline: "oa", SubjectPresence: model.SubjectFull},
			{Index: 1, Outline: "ob", SubjectPresence: model.SubjectFull},
		},
	}
	if _, err := (&ReferencesStage{svc: svc}).Run(context.Background(), gen); err == nil {
		t.Fatal("a broken link must fail the whole chain")
	}
}

func TestScenesStageWritesDescriptions(t *testing.T) {
	llm := &stubLLM{
		scene:    "a slow dolly-in on the shoe at dawn",
		verdict:  `{"score": 90, "feedback": "solid"}`,
		cohesion: `{"score": 95, "feedback": "coherent", "inconsistent_scenes": []}`,
	}
	svc, _, _ := newTestService(llm, &stubTool{run: imageOK}, &stubTool{}, testPipe())

	gen := &model.Generation{
		ID:       "g5",
		Contract: &model.Contract{Style: "cinematic"},
		Scenes: model.SceneList{
			{Index: 0, Outline: "oa", SubjectPresence: model.SubjectFull},
			{Index: 1, Outline: "ob", SubjectPresence: model.SubjectNone},
		},
	}
	out, err := (&ScenesStage{svc: svc}).Run(context.Background(), gen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range gen.Scenes {
		if gen.Scenes[i].Description == "" {
			t.Fatalf("scene %d has no description", i)
		}
	}
	var payload ScenesOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if !payload.CohesionAccepted || payload.CohesionScore != 95 {
		t.Fatalf("unexpected cohesion result %+v", payload)
	}
	// 最深的单场景循环(1) + 整体评审(1)
	if gen.CurrentStageAttempt != 2 {
		t.Fatalf("stage attempts = %d, want 2", gen.CurrentStageAttempt)
	}
}

func videoScenes() model.SceneList {
	return model.SceneList{
		{Index: 0, Description: "steady shot", SubjectPresence: model.SubjectFull, ReferenceImageURL: "hosted/ref0"},
		{Index: 1, Description: "flaky shot", SubjectPresence: model.SubjectFull, ReferenceImageURL: "hosted/ref1"},
	}
}

func flakyVideoTool() *stubTool {
	return &stubTool{run: func(args string) (string, error) {
		var a tools.VideoToolArgs
		_ = json.Unmarshal([]byte(args), &a)
		if strings.Contains(a.Prompt, "flaky shot") {
			return "", fmt.Errorf("render farm rejected the task")
		}
		return `{"task_id":"t1","status":"succeeded","video_url":"http://ark/clip.mp4"}`, nil
	}}
}

func TestVideosStageMinSuccessPolicy(t *testing.T) {
	pipe := testPipe()
	pipe.VideoMinSuccess = 1
	svc, _, _ := newTestService(&stubLLM{}, &stubTool{run: imageOK}, flakyVideoTool(), pipe)

	gen := &model.Generation{ID: "g6", Contract: &model.Contract{Style: "cinematic"}, Scenes: videoScenes()}
	out, err := (&VideosStage{svc: svc}).Run(context.Background(), gen)
	if err != nil {
		t.Fatalf("one clip satisfies min_success=1: %v", err)
	}

	var payload VideosOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.Succeeded != 1 {
		t.Fatalf("expected 1 success, got %d", payload.Succeeded)
	}
	if payload.Clips[0].VideoURL == "" || payload.Clips[0].Error != "" {
		t.Fatalf("clip 0 should succeed: %+v", payload.Clips[0])
	}
	if payload.Clips[1].Error == "" {
		t.Fatalf("clip 1 failure must be recorded in its own slot: %+v", payload.Clips[1])
	}
	// 帧产物必须先于视频产出
	s0 := gen.Scenes[0]
	if s0.FirstFrameURL == "" || s0.LastFrameURL == "" || s0.VideoURL == "" {
		t.Fatalf("frames and clip missing on successful scene: %+v", s0)
	}
}

func TestVideosStageRequireAllByDefault(t *testing.T) {
	pipe := testPipe()
	pipe.VideoMinSuccess = 0 // 0表示要求全部成功
	svc, _, _ := newTestService(&stubLLM{}, &stubTool{run: imageOK}, flakyVideoTool(), pipe)

	gen := &model.Generation{ID: "g7", Contract: &model.Contract{Style: "cinematic"}, Scenes: videoScenes()}
	if _, err := (&VideosStage{svc: svc}).Run(context.Background(), gen); err == nil {
		t.Fatal("partial success must fail the stage when all scenes are required")
	}
}

func TestAssemblyStageOrdersClipsByIndex(t *testing.T) {
	svc, _, st := newTestService(&stubLLM{}, &stubTool{run: imageOK}, &stubTool{}, testPipe())

	gen := &model.Generation{
		ID:       "g8",
		Contract: &model.Contract{Style: "cinematic"},
		Scenes: model.SceneList{
			{Index: 0, FirstFrameURL: "f0", LastFrameURL: "l0", VideoURL: "hosted/clip0.mp4", Transition: "cut"},
			{Index: 1}, // 渲染失败的场景，没有片段
			{Index: 2, FirstFrameURL: "f2", LastFrameURL: "l2", VideoURL: "hosted/clip2.mp4", Transition: "fade"},
		},
	}
	out, err := (&AssemblyStage{svc: svc}).Run(context.Background(), gen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(st.req.ClipURLs) != 2 || st.req.ClipURLs[0] != "hosted/clip0.mp4" || st.req.ClipURLs[1] != "hosted/clip2.mp4" {
		t.Fatalf("clips must keep index order and skip missing scenes: %v", st.req.ClipURLs)
	}
	if gen.FinalVideoURL == "" {
		t.Fatal("final video url not set on the aggregate")
	}
	var payload AssemblyOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.ClipCount != 2 {
		t.Fatalf("unexpected clip count %d", payload.ClipCount)
	}
}

func TestAssemblyStageNoClipsIsFatal(t *testing.T) {
	svc, _, _ := newTestService(&stubLLM{}, &stubTool{run: imageOK}, &stubTool{}, testPipe())
	gen := &model.Generation{ID: "g9", Scenes: model.SceneList{{Index: 0}}}
	if _, err := (&AssemblyStage{svc: svc}).Run(context.Background(), gen); err == nil {
		t.Fatal("assembly without clips must fail")
	}
}
