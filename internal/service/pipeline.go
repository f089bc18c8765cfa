package service

import (
	"context"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/sirupsen/logrus"

	"adreel/internal/agents"
	"adreel/internal/config"
	"adreel/internal/engine"
	"adreel/internal/stitcher"
)

// Artifacts 产物转存协作方，外部URL换成自己对象存储里的句柄
type Artifacts interface {
	Persist(ctx context.Context, sourceURL, objectName string) (string, error)
}

// VideoStitcher 拼接工作器协作方
type VideoStitcher interface {
	Stitch(ctx context.Context, req stitcher.StitchRequest) (string, error)
}

// PipelineService 组装五个阶段所需的全部外部依赖。
// 阶段实现持有它并按需取用
type PipelineService struct {
	llm       agents.ChatInvoker
	imageTool einotool.InvokableTool
	videoTool einotool.InvokableTool
	artifacts Artifacts
	stitcher  VideoStitcher
	pipe      config.Pipeline
	log       *logrus.Entry
}

func NewPipelineService(
	llm agents.ChatInvoker,
	imageTool, videoTool einotool.InvokableTool,
	artifacts Artifacts,
	vs VideoStitcher,
	pipe config.Pipeline,
) *PipelineService {
	return &PipelineService{
		llm:       llm,
		imageTool: imageTool,
		videoTool: videoTool,
		artifacts: artifacts,
		stitcher:  vs,
		pipe:      pipe,
		log:       logrus.WithField("component", "pipeline"),
	}
}

// Stages 按执行顺序返回阶段列表，交给调度器推进
func (s *PipelineService) Stages() []engine.Stage {
	return []engine.Stage{
		&StoryStage{svc: s},
		&ReferencesStage{svc: s},
		&ScenesStage{svc: s},
		&VideosStage{svc: s},
		&AssemblyStage{svc: s},
	}
}

func (s *PipelineService) retryConfig() engine.RetryConfig {
	return engine.RetryConfig{
		MaxRetries:      s.pipe.RetryMaxRetries,
		InitialInterval: s.pipe.RetryInitialInterval(),
	}
}
