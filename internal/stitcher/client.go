package stitcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"adreel/internal/engine"
)

// Client 拼接工作器的HTTP客户端：提交片段列表拿到job_id，再轮询结果。
// 工作器内部用ffmpeg按顺序拼接并套用转场
type Client struct {
	Addr         string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollTimeout  time.Duration
	log          *logrus.Entry
}

type StitchRequest struct {
	GenerationID string   `json:"generation_id"`
	ClipURLs     []string `json:"clip_urls"`
	Transitions  []string `json:"transitions,omitempty"`
}

func NewClient(addr string, pollInterval, pollTimeout time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 15 * time.Minute
	}
	return &Client{
		Addr:         addr,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: pollInterval,
		PollTimeout:  pollTimeout,
		log:          logrus.WithField("component", "stitcher"),
	}
}

// Stitch 提交拼接任务并等到成片URL
func (c *Client) Stitch(ctx context.Context, req StitchRequest) (string, error) {
	jobID, err := c.dispatch(ctx, req)
	if err != nil {
		return "", err
	}
	c.log.Infof("stitch job submitted: generation=%s job=%s clips=%d", req.GenerationID, jobID, len(req.ClipURLs))

	return engine.Poll(ctx, c.PollInterval, c.PollTimeout, func(ctx context.Context) (string, bool, error) {
		return c.pollJob(ctx, jobID)
	})
}

func (c *Client) dispatch(ctx context.Context, req StitchRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal stitch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/v1/stitch", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("create stitch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", &engine.TransientError{Reason: "stitcher dispatch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		if resp.StatusCode >= 500 {
			return "", engine.Transientf("stitcher status %d", resp.StatusCode)
		}
		return "", engine.Fatalf("stitcher rejected request, status %d", resp.StatusCode)
	}

	var respData struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", engine.Transientf("decode stitcher response: %v", err)
	}
	if respData.JobID == "" {
		return "", engine.Fatalf("stitcher response missing job_id")
	}
	return respData.JobID, nil
}

func (c *Client) pollJob(ctx context.Context, jobID string) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return "", false, fmt.Errorf("create poll request: %w", err)
	}
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// 网络抖动继续轮询
		c.log.Warnf("stitcher poll error (will retry): %v", err)
		return "", false, nil
	}
	defer resp.Body.Close()

	var job struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		c.log.Warnf("stitcher poll decode error (will retry): %v", err)
		return "", false, nil
	}

	switch job.Status {
	case "succeeded", "success", "completed":
		if job.VideoURL == "" {
			return "", false, engine.Transientf("stitch job %s succeeded but url empty", jobID)
		}
		return job.VideoURL, true, nil
	case "failed", "error":
		return "", false, engine.Fatalf("stitch job %s failed remotely: %s", jobID, job.Error)
	default:
		return "", false, nil
	}
}
