package volc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"adreel/internal/engine"
)

const (
	defaultBase = "https://ark.cn-beijing.volces.com"
)

type ArkClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool
}

func NewArkClientDefault() *ArkClient {
	apiKey := os.Getenv("ARK_API_KEY")
	return &ArkClient{
		BaseURL:    defaultBase,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Mock:       strings.ToLower(os.Getenv("ARK_MOCK")) == "1" || strings.ToLower(os.Getenv("ARK_MOCK")) == "true",
	}
}

func NewArkClientWithTimeout(timeout time.Duration) *ArkClient {
	c := NewArkClientDefault()
	c.HTTPClient = &http.Client{Timeout: timeout}
	return c
}

type ImageGenParams struct {
	Model                     string
	Prompt                    string
	Size                      string
	SequentialImageGeneration string
	ImageInputs               []string
	MaxImages                 int
}

// GenerateImages 调用Seedream生图，ImageInputs为条件图（顺链模式下传上一张参考图）
func (c *ArkClient) GenerateImages(ctx context.Context, p ImageGenParams) ([]string, error) {
	if c.Mock {
		// 1x1 PNG pixel base64
		pixel := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="
		urls := make([]string, 0, p.MaxImages)
		n := p.MaxImages
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			urls = append(urls, "data:image/png;base64,"+pixel)
		}
		return urls, nil
	}
	if p.Model == "" {
		p.Model = "doubao-seedream-4.0"
	}
	if p.Size == "" {
		p.Size = "1024x1024"
	}
	if p.MaxImages == 0 {
		p.MaxImages = 1
	}
	body := map[string]any{
		"model":  p.Model,
		"prompt": p.Prompt,
		"size":   p.Size,
	}
	if p.SequentialImageGeneration != "" {
		body["sequential_image_generation"] = p.SequentialImageGeneration
		if p.SequentialImageGeneration == "auto" && p.MaxImages > 0 {
			body["sequential_image_generation_options"] = map[string]any{"max_images": p.MaxImages}
		}
	}
	if len(p.ImageInputs) > 0 {
		body["image"] = p.ImageInputs
	}

	var resp struct {
		Data []struct {
			URL    string `json:"url"`
			B64    string `json:"b64_json"`
			Format string `json:"format"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/api/v3/images/generations", body, &resp); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL != "" {
			urls = append(urls, d.URL)
			continue
		}
		if d.B64 != "" {
			fmtType := d.Format
			if fmtType == "" {
				fmtType = "png"
			}
			urls = append(urls, "data:image/"+fmtType+";base64,"+d.B64)
		}
	}
	if len(urls) == 0 {
		return nil, engine.Transientf("no images returned")
	}
	return urls, nil
}

type VideoTaskParams struct {
	Model              string
	Prompt             string
	ReferenceImageURLs []string
	FirstFrameURL      string
	LastFrameURL       string
}

// CreateVideoTask 创建Seedance生视频任务，返回远端task id
func (c *ArkClient) CreateVideoTask(ctx context.Context, p VideoTaskParams) (string, error) {
	if c.Mock {
		return "mock-task", nil
	}
	if p.Model == "" {
		p.Model = "doubao-seedance-1-0-lite-i2v"
	}
	content := make([]map[string]any, 0, 3) // 1 text + up to 2 images
	content = append(content, map[string]any{"type": "text", "text": p.Prompt})

	// 首帧+尾帧模式
	if p.FirstFrameURL != "" && p.LastFrameURL != "" {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": p.FirstFrameURL, "role": "first_frame"},
		})
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": p.LastFrameURL, "role": "last_frame"},
		})
		// 仅首帧模式
	} else if p.FirstFrameURL != "" {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": p.FirstFrameURL, "role": "first_frame"},
		})
		// 参考图模式
	} else if len(p.ReferenceImageURLs) > 0 {
		for _, u := range p.ReferenceImageURLs {
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": u, "role": "reference_image"},
			})
		}
	}

	body := map[string]any{
		"model":   p.Model,
		"content": content,
	}
	var resp map[string]any
	if err := c.postJSON(ctx, "/api/v3/contents/generations/tasks", body, &resp); err != nil {
		return "", err
	}
	if id, ok := resp["task_id"].(string); ok && id != "" {
		return id, nil
	}
	if id, ok := resp["id"].(string); ok && id != "" {
		return id, nil
	}
	return "", engine.Transientf("no task id in response")
}

// GetVideoTask 查询生视频任务，返回(status, video_url)
func (c *ArkClient) GetVideoTask(ctx context.Context, taskID string) (string, string, error) {
	if c.Mock {
		return "succeeded", "https://example.com/mock_video.mp4", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v3/contents/generations/tasks?task_id="+taskID, nil)
	if err != nil {
		return "", "", &engine.FatalError{Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", "", &engine.TransientError{Reason: "get video task", Err: err}
	}
	defer res.Body.Close()
	if err := classifyStatus(res.StatusCode, nil); err != nil {
		return "", "", err
	}
	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return "", "", &engine.TransientError{Reason: "decode video task", Err: err}
	}
	status := getString(resp, "status")
	url := getString(resp, "video_url")
	if url == "" {
		if out, ok := resp["output"].(map[string]any); ok {
			url = getString(out, "video_url")
		}
	}
	return status, url, nil
}

// ChatText 非流式对话，返回首个choice的文本内容。
// 主链路的代理走eino ChatModel；这里是旁路调用（后台评分探针）
// 用的轻量入口，不需要图编排和工具绑定
func (c *ArkClient) ChatText(ctx context.Context, model string, prompt string) (string, error) {
	if c.Mock {
		return `{"score": 88}`, nil
	}
	if model == "" {
		return "", engine.Fatalf("model required")
	}
	reqBody := map[string]any{
		"model":    model,
		"messages": []map[string]any{{"role": "user", "content": prompt}},
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/api/v3/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		if content == "" {
			content = resp.Choices[0].Delta.Content
		}
	}
	if content == "" {
		return "", engine.Transientf("empty chat content")
	}
	return content, nil
}

func (c *ArkClient) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return &engine.FatalError{Reason: "marshal request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return &engine.FatalError{Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	logrus.Debugf("POST %s", req.URL.String())
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		// 网络层错误（含客户端超时）一律按瞬时处理
		return &engine.TransientError{Reason: "ark request", Err: err}
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return &engine.TransientError{Reason: "read response", Err: err}
	}
	if err := classifyStatus(res.StatusCode, bodyBytes); err != nil {
		return err
	}
	return json.Unmarshal(bodyBytes, out)
}

// classifyStatus 把HTTP状态码映射到错误分级：
// 429限流单独识别，5xx瞬时，其余4xx不可重试
func classifyStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("http %d: %s", code, string(body))
	switch {
	case code == http.StatusTooManyRequests:
		return &engine.RateLimitedError{Err: err}
	case code >= 500:
		return &engine.TransientError{Reason: "server error", Err: err}
	default:
		return &engine.FatalError{Reason: "rejected request", Err: err}
	}
}

func getString(m map[string]any, k string) string {
	if v, ok := m[k]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
