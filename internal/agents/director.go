package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"adreel/internal/engine"
	"adreel/internal/model"
)

const directorInstruction = `You are an advertisement creative director. Based on the user's product brief, plan a short ad video. Respond in valid JSON only:
{"narrative": "...", "scenes": [{"title": "...", "outline": "...", "subject_presence": "none|partial|full", "transition": "cut|fade|..."}], "style": {"style": "...", "palette": "...", "lighting": "...", "composition": "...", "mood": "...", "subject": "..."}}
"subject" is a visual description of the recurring hero subject, detailed enough to be reused verbatim in later image prompts; use an empty string if the ad has no recurring subject. "subject_presence" says how much of that subject appears in the scene.
If feedback on a previous version is provided, revise the plan according to the feedback.`

const storyCriticInstruction = `You are a strict advertisement script critic. Score the given ad plan from 0 to 100 for narrative clarity, pacing and fitness for a short ad, and give concrete revision feedback. Respond in valid JSON only: {"score": 0, "feedback": "..."}`

// SceneOutline Director产出的场景骨架
type SceneOutline struct {
	Title           string `json:"title"`
	Outline         string `json:"outline"`
	SubjectPresence string `json:"subject_presence"`
	Transition      string `json:"transition,omitempty"`
}

// StyleBlock Director产出的视觉风格块，Story阶段用它构建一致性契约
type StyleBlock struct {
	Style       string `json:"style"`
	Palette     string `json:"palette"`
	Lighting    string `json:"lighting"`
	Composition string `json:"composition"`
	Mood        string `json:"mood"`
	Subject     string `json:"subject"`
}

// StoryDraft Story阶段的候选产物
type StoryDraft struct {
	Narrative string         `json:"narrative"`
	Scenes    []SceneOutline `json:"scenes"`
	Style     StyleBlock     `json:"style"`
}

// Director Story阶段的生成方，绑定一次Generation的商品简报
type Director struct {
	llm        ChatInvoker
	brief      string
	sceneCount int
	lastDraft  *StoryDraft
}

func NewDirector(llm ChatInvoker, brief string, sceneCount int) *Director {
	if sceneCount <= 0 {
		sceneCount = 3
	}
	return &Director{llm: llm, brief: brief, sceneCount: sceneCount}
}

func (d *Director) Produce(ctx context.Context, priorFeedback string) (*StoryDraft, error) {
	userPrompt := fmt.Sprintf("Product brief: %s\nPlan %d scenes.", d.brief, d.sceneCount)
	if priorFeedback != "" && d.lastDraft != nil {
		prev, _ := json.Marshal(d.lastDraft)
		userPrompt = fmt.Sprintf("%s\n\nPrevious plan:\n%s\n\nCritic feedback:\n%s", userPrompt, string(prev), priorFeedback)
	}

	content, err := d.llm.Generate(ctx, directorInstruction, userPrompt)
	if err != nil {
		return nil, err
	}

	var draft StoryDraft
	if err := json.Unmarshal([]byte(cleanJSON(content)), &draft); err != nil {
		// 输出格式坏掉属于可重试：重新生成一次往往就好了
		return nil, &engine.TransientError{Reason: "unmarshal story draft", Err: err}
	}
	if len(draft.Scenes) == 0 {
		return nil, engine.Transientf("story draft has no scenes")
	}
	for i := range draft.Scenes {
		if draft.Scenes[i].SubjectPresence == "" {
			draft.Scenes[i].SubjectPresence = model.SubjectFull
		}
	}
	d.lastDraft = &draft
	return &draft, nil
}

// StoryCritic Story阶段的评审方
type StoryCritic struct {
	llm   ChatInvoker
	brief string
}

func NewStoryCritic(llm ChatInvoker, brief string) *StoryCritic {
	return &StoryCritic{llm: llm, brief: brief}
}

func (c *StoryCritic) Evaluate(ctx context.Context, candidate *StoryDraft) (float64, string, error) {
	draftJSON, err := json.Marshal(candidate)
	if err != nil {
		return 0, "", &engine.FatalError{Reason: "marshal story draft", Err: err}
	}
	userPrompt := fmt.Sprintf("Product brief: %s\n\nAd plan to review:\n%s", c.brief, string(draftJSON))
	content, err := c.llm.Generate(ctx, storyCriticInstruction, userPrompt)
	if err != nil {
		return 0, "", err
	}
	return parseVerdict(content)
}

// parseVerdict 解析评审JSON，所有Critic共用
func parseVerdict(content string) (float64, string, error) {
	var v struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &v); err != nil {
		return 0, "", &engine.TransientError{Reason: "unmarshal verdict", Err: err}
	}
	return v.Score, v.Feedback, nil
}
