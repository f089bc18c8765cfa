package agents

import (
	"context"
	"fmt"

	"adreel/internal/model"
)

const writerInstruction = `You are an advertisement scene writer. Expand the given scene outline into a single vivid shot description for a video generation model: concrete action, camera movement, framing and timing, 2-4 sentences, no headings. The description must respect the visual consistency constraints provided. If critic feedback on a previous version is provided, revise accordingly. Respond with the description text only.`

const sceneCriticInstruction = `You are a strict reviewer of video shot descriptions. Score the description from 0 to 100 for concreteness, filmability and adherence to the visual constraints, and give concrete revision feedback. Respond in valid JSON only: {"score": 0, "feedback": "..."}`

// SceneWriter 单个场景描述的生成方，绑定场景骨架与只读契约
type SceneWriter struct {
	llm      ChatInvoker
	scene    model.Scene
	contract *model.Contract
	lastText string
}

func NewSceneWriter(llm ChatInvoker, scene model.Scene, contract *model.Contract) *SceneWriter {
	// 一致性重修时场景已有描述，作为上一版参与修订
	return &SceneWriter{llm: llm, scene: scene, contract: contract, lastText: scene.Description}
}

func (w *SceneWriter) Produce(ctx context.Context, priorFeedback string) (string, error) {
	userPrompt := fmt.Sprintf("Scene %d: %s\nOutline: %s\nConstraints: %s",
		w.scene.Index+1, w.scene.Title, w.scene.Outline,
		w.contract.ScenePrompt(&w.scene, ""))
	if priorFeedback != "" {
		if w.lastText != "" {
			userPrompt = fmt.Sprintf("%s\n\nPrevious description:\n%s", userPrompt, w.lastText)
		}
		userPrompt = fmt.Sprintf("%s\n\nFeedback:\n%s", userPrompt, priorFeedback)
	}

	content, err := w.llm.Generate(ctx, writerInstruction, userPrompt)
	if err != nil {
		return "", err
	}
	w.lastText = content
	return content, nil
}

// SceneCritic 单个场景描述的评审方
type SceneCritic struct {
	llm      ChatInvoker
	scene    model.Scene
	contract *model.Contract
}

func NewSceneCritic(llm ChatInvoker, scene model.Scene, contract *model.Contract) *SceneCritic {
	return &SceneCritic{llm: llm, scene: scene, contract: contract}
}

func (c *SceneCritic) Evaluate(ctx context.Context, candidate string) (float64, string, error) {
	userPrompt := fmt.Sprintf("Scene outline: %s\nConstraints: %s\n\nDescription to review:\n%s",
		c.scene.Outline, c.contract.StylePrompt(), candidate)
	content, err := c.llm.Generate(ctx, sceneCriticInstruction, userPrompt)
	if err != nil {
		return 0, "", err
	}
	return parseVerdict(content)
}
