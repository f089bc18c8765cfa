package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// QualityProbe 对阶段产物做事后质量评估的外部评审模型
type QualityProbe interface {
	Score(ctx context.Context, stage string, artifact json.RawMessage) (float64, error)
}

// ScoreStore 评分结果的落库口。评分失败写空分数，从不影响所属Generation
type ScoreStore interface {
	SaveStageScore(ctx context.Context, generationID, stage string, score *float64, probeErr string) error
}

// BackgroundScorer 非阻塞的事后评分器。订阅阶段完成并在主流程之外打分，
// 评分服务不可用只记日志和空指标，不重试也不使Generation失败
type BackgroundScorer struct {
	probe   QualityProbe
	store   ScoreStore
	timeout time.Duration
	log     *logrus.Entry
}

func NewBackgroundScorer(probe QualityProbe, store ScoreStore, timeout time.Duration) *BackgroundScorer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &BackgroundScorer{
		probe:   probe,
		store:   store,
		timeout: timeout,
		log:     logrus.WithField("component", "background_scorer"),
	}
}

// ScoreAsync fire-and-forget，调用方不等待
func (b *BackgroundScorer) ScoreAsync(generationID, stage string, artifact json.RawMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		score, err := b.probe.Score(ctx, stage, artifact)
		if err != nil {
			b.log.WithField("generation", generationID).
				Warnf("score %s failed: %v", stage, err)
			if saveErr := b.store.SaveStageScore(ctx, generationID, stage, nil, err.Error()); saveErr != nil {
				b.log.Warnf("save null score: %v", saveErr)
			}
			return
		}
		if err := b.store.SaveStageScore(ctx, generationID, stage, &score, ""); err != nil {
			b.log.Warnf("save score: %v", err)
		}
	}()
}

// NopScorer 评分探针未配置时的空实现
type NopScorer struct{}

func (NopScorer) ScoreAsync(string, string, json.RawMessage) {}
