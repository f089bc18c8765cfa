package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"adreel/internal/config"
	"adreel/internal/engine"
)

// Runner 由流水线调度器实现
type Runner interface {
	Run(ctx context.Context, generationID string) error
}

// Processor 队列消费侧：从Redis取出生成任务并交给调度器推进。
// 业务失败由调度器落库为终态，这里返回nil避免无意义的重投递；
// 进程被杀导致的半途任务靠asynq重投递+断点续跑收尾
type Processor struct {
	runner Runner
	log    *logrus.Entry
}

func NewProcessor(runner Runner) *Processor {
	return &Processor{
		runner: runner,
		log:    logrus.WithField("component", "processor"),
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerationRun, p.HandleGenerationRun)

	p.log.Infof("starting task processor with concurrency %d", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run asynq server: %v", err)
		}
	}()
}

func (p *Processor) HandleGenerationRun(ctx context.Context, t *asynq.Task) error {
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	p.log.Infof("processing generation %s", payload.GenerationID)
	if err := p.runner.Run(ctx, payload.GenerationID); err != nil {
		// 业务性失败已落库为failed终态，重投递没有意义；
		// 其余错误（加载失败、落库失败）没有写入终态，
		// 返回错误让asynq重投递，断点续跑接手
		var sf *engine.StageFailure
		if errors.As(err, &sf) {
			p.log.Errorf("generation %s failed: %v", payload.GenerationID, err)
			return nil
		}
		p.log.Errorf("generation %s infrastructure error, will retry: %v", payload.GenerationID, err)
		return err
	}
	return nil
}
