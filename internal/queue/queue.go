package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"adreel/internal/config"
)

const TypeGenerationRun = "generation:run"

type GenerationPayload struct {
	GenerationID string `json:"generation_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueGeneration 把一次生成任务投入队列。重投递即断点续跑，
// 不需要幂等去重
func EnqueueGeneration(generationID string) error {
	payload, err := json.Marshal(GenerationPayload{GenerationID: generationID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeGenerationRun, payload,
		asynq.MaxRetry(3),             // 进程崩溃等基础设施故障重试3次
		asynq.Timeout(60*time.Minute), // 视频渲染较慢，设置较长超时
		asynq.Retention(24*time.Hour), // 任务结果在Redis保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	logrus.Infof("[Queue] generation enqueued: generation=%s task=%s", generationID, info.ID)
	return nil
}
