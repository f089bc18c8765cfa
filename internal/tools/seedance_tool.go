package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"adreel/internal/engine"
	"adreel/internal/volc"
)

// VideoTool 实现eino框架的Seedance生视频工具：创建任务并轮询到产出
type VideoTool struct {
	ark          *volc.ArkClient
	Model        string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type VideoToolArgs struct {
	Model              string   `json:"model"`
	Prompt             string   `json:"prompt"`
	ReferenceImageURLs []string `json:"reference_image_urls"`
	FirstFrameURL      string   `json:"first_frame_url"`
	LastFrameURL       string   `json:"last_frame_url"`
}

type VideoToolResp struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
}

func NewVideoTool(ark *volc.ArkClient, model string, pollInterval, pollTimeout time.Duration) *VideoTool {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}
	return &VideoTool{ark: ark, Model: model, PollInterval: pollInterval, PollTimeout: pollTimeout}
}

func (t *VideoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":               {Type: schema.String, Required: true, Desc: "视频描述提示词"},
		"reference_image_urls": {Type: schema.Array, Required: false, Desc: "参考图片URL列表", ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		"first_frame_url":      {Type: schema.String, Required: false, Desc: "首帧图片URL"},
		"last_frame_url":       {Type: schema.String, Required: false, Desc: "尾帧图片URL"},
	}
	return &schema.ToolInfo{
		Name:        "video_generate",
		Desc:        "调用Seedance生成视频，支持首尾帧、参考图等多种模式",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *VideoTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args VideoToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Prompt == "" {
		return "", errors.New("prompt required")
	}

	m := args.Model
	if m == "" {
		m = t.Model
	}
	taskID, err := t.ark.CreateVideoTask(ctx, volc.VideoTaskParams{
		Model:              m,
		Prompt:             args.Prompt,
		ReferenceImageURLs: args.ReferenceImageURLs,
		FirstFrameURL:      args.FirstFrameURL,
		LastFrameURL:       args.LastFrameURL,
	})
	if err != nil {
		return "", err
	}

	// 有界轮询，超时按瞬时错误交给调用方的重试预算
	url, err := engine.Poll(ctx, t.PollInterval, t.PollTimeout, func(ctx context.Context) (string, bool, error) {
		status, videoURL, err := t.ark.GetVideoTask(ctx, taskID)
		if err != nil {
			if engine.IsFatal(err) {
				return "", false, err
			}
			// 查询抖动在轮询窗口内消化，中断轮询会让外层重建远端任务
			return "", false, nil
		}
		switch status {
		case "succeeded", "success", "completed":
			if videoURL == "" {
				return "", false, engine.Transientf("video task %s succeeded but url empty", taskID)
			}
			return videoURL, true, nil
		case "failed", "error":
			return "", false, engine.Fatalf("video task %s failed remotely", taskID)
		default:
			return "", false, nil
		}
	})
	if err != nil {
		return "", err
	}

	out := VideoToolResp{TaskID: taskID, Status: "succeeded", VideoURL: url}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*VideoTool)(nil)
