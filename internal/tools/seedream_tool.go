package tools

import (
	"context"
	"encoding/json"
	"errors"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"adreel/internal/volc"
)

// ImageTool 实现eino框架的Seedream生图工具
type ImageTool struct {
	ark   *volc.ArkClient
	Model string
}

type ImageToolArgs struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Size   string   `json:"size"`
	Seq    string   `json:"sequential_image_generation"`
	Max    int      `json:"max_images"`
}

type ImageToolResp struct {
	Images []string `json:"images"`
	Count  int      `json:"count"`
}

func NewImageTool(ark *volc.ArkClient, model string) *ImageTool {
	return &ImageTool{ark: ark, Model: model}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":                      {Type: schema.String, Required: true, Desc: "图片提示词"},
		"images":                      {Type: schema.Array, Required: false, Desc: "条件图URL列表（顺链模式传上一张）", ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		"size":                        {Type: schema.String, Required: false, Desc: "输出分辨率，如1024x1024"},
		"sequential_image_generation": {Type: schema.String, Required: false, Desc: "auto或disabled"},
		"max_images":                  {Type: schema.Number, Required: false, Desc: "单次最多生成张数"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "调用Seedream生成单图或组图，支持条件图输入",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
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
	res, err := t.ark.GenerateImages(ctx, volc.ImageGenParams{
		Model:                     m,
		Prompt:                    args.Prompt,
		Size:                      args.Size,
		SequentialImageGeneration: args.Seq,
		ImageInputs:               args.Images,
		MaxImages:                 args.Max,
	})
	if err != nil {
		return "", err
	}
	out := ImageToolResp{Images: res, Count: len(res)}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
