package agents

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"adreel/internal/engine"
)

// ChatInvoker 各角色代理共用的对话入口，便于在测试里替换
type ChatInvoker interface {
	Generate(ctx context.Context, instruction, userPrompt string) (string, error)
}

// LLM eino ChatModel的薄封装，一次Generate对应一次非流式对话
type LLM struct {
	chatModel *ark.ChatModel
}

func NewLLM(ctx context.Context, modelName string) (*LLM, error) {
	apiKey := os.Getenv("ARK_API_KEY")
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
		Model:      modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &LLM{chatModel: chatModel}, nil
}

func (l *LLM) Generate(ctx context.Context, instruction, userPrompt string) (string, error) {
	plainChatModel, err := l.chatModel.WithTools(nil)
	if err != nil {
		return "", &engine.FatalError{Reason: "prepare chat model", Err: err}
	}

	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	graph.AddChatModelNode("model", plainChatModel)
	graph.AddEdge(compose.START, "model")
	gAgent, err := graph.Compile(ctx)
	if err != nil {
		return "", &engine.FatalError{Reason: "compile graph", Err: err}
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: instruction},
		{Role: schema.User, Content: userPrompt},
	}
	res, err := gAgent.Invoke(ctx, messages)
	if err != nil {
		// 模型调用失败（网络、限流、超时）按瞬时处理，交给外层重试预算
		return "", &engine.TransientError{Reason: "graph invocation", Err: err}
	}
	return res.Content, nil
}

// cleanJSON 去掉模型偶尔包上的markdown围栏
func cleanJSON(content string) string {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
