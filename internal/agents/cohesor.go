package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/engine"
	"adreel/internal/model"
	"adreel/internal/volc"
)

const cohesorInstruction = `You are a continuity supervisor for advertisement videos. Review the full ordered list of scene descriptions as one sequence. Score overall visual and narrative cohesion from 0 to 100, explain the problems, and list the zero-based indices of scenes that break consistency with the rest. Respond in valid JSON only: {"score": 0, "feedback": "...", "inconsistent_scenes": [0]}`

const probeInstruction = `You are a quality assessor for generated advertisement artifacts. Given a pipeline stage name and its output payload, score the output quality from 0 to 100. Respond in valid JSON only: {"score": 0}`

// Cohesor 对整个有序场景列表做一次一致性评审，标出需要重修的场景
type Cohesor struct {
	llm      ChatInvoker
	contract *model.Contract
}

func NewCohesor(llm ChatInvoker, contract *model.Contract) *Cohesor {
	return &Cohesor{llm: llm, contract: contract}
}

func (c *Cohesor) Review(ctx context.Context, scenes []model.Scene) (float64, string, []int, error) {
	type entry struct {
		Index       int    `json:"index"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	entries := make([]entry, 0, len(scenes))
	for _, s := range scenes {
		entries = append(entries, entry{Index: s.Index, Title: s.Title, Description: s.Description})
	}
	listJSON, err := json.Marshal(entries)
	if err != nil {
		return 0, "", nil, &engine.FatalError{Reason: "marshal scene list", Err: err}
	}

	userPrompt := fmt.Sprintf("Shared constraints: %s\n\nScene sequence:\n%s", c.contract.StylePrompt(), string(listJSON))
	content, err := c.llm.Generate(ctx, cohesorInstruction, userPrompt)
	if err != nil {
		return 0, "", nil, err
	}

	var v struct {
		Score              float64 `json:"score"`
		Feedback           string  `json:"feedback"`
		InconsistentScenes []int   `json:"inconsistent_scenes"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &v); err != nil {
		return 0, "", nil, &engine.TransientError{Reason: "unmarshal cohesion verdict", Err: err}
	}
	return v.Score, v.Feedback, v.InconsistentScenes, nil
}

// QualityProbe 后台评分用的事后质量探针，不在主链路上。
// 走Ark客户端的轻量对话入口而非eino图：单轮问答不需要编排
type QualityProbe struct {
	ark   *volc.ArkClient
	model string
}

func NewQualityProbe(ark *volc.ArkClient, model string) *QualityProbe {
	return &QualityProbe{ark: ark, model: model}
}

func (p *QualityProbe) Score(ctx context.Context, stage string, artifact json.RawMessage) (float64, error) {
	prompt := fmt.Sprintf("%s\n\nStage: %s\nOutput:\n%s", probeInstruction, stage, string(artifact))
	content, err := p.ark.ChatText(ctx, p.model, prompt)
	if err != nil {
		return 0, err
	}
	var v struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &v); err != nil {
		return 0, &engine.TransientError{Reason: "unmarshal probe verdict", Err: err}
	}
	return v.Score, nil
}
