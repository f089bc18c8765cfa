package model

import (
	"fmt"
	"strings"
)

// StylePrompt 契约中与主体无关的部分，所有下游提示词统一携带
func (c *Contract) StylePrompt() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Visual style: %s. ", c.Style))
	b.WriteString(fmt.Sprintf("Color palette: %s. ", c.Palette))
	b.WriteString(fmt.Sprintf("Lighting: %s. ", c.Lighting))
	b.WriteString(fmt.Sprintf("Composition: %s. ", c.Composition))
	b.WriteString(fmt.Sprintf("Mood: %s.", c.Mood))
	return b.String()
}

// ScenePrompt 为单个场景构建下游生成提示词。
// 契约整体始终注入；主体描述只在场景包含主体时注入，
// 这样空镜/材质特写不会被强行塞入主体，同时风格仍然统一。
func (c *Contract) ScenePrompt(scene *Scene, body string) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(c.StylePrompt())
	if c.Subject != "" && scene.SubjectPresence != SubjectNone {
		b.WriteString(" Subject: ")
		b.WriteString(c.Subject)
		b.WriteString(".")
	}
	return b.String()
}
