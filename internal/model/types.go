package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Generation状态（在系统中统一使用这些状态）
const (
	// pending: 已创建，等待执行器取走执行
	StatusPending = "pending"
	// running_*: 流水线正在执行对应阶段
	StatusRunningStory      = "running_story"
	StatusRunningReferences = "running_references"
	StatusRunningScenes     = "running_scenes"
	StatusRunningVideos     = "running_videos"
	StatusAssembling        = "assembling"
	// 终态，进入后不再迁移
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// 流水线阶段名，同时作为stage_outputs的key
const (
	StageStory      = "story"
	StageReferences = "references"
	StageScenes     = "scenes"
	StageVideos     = "videos"
	StageAssembly   = "assembly"
)

// 场景中主体出现程度，决定下游提示词是否注入主体描述
const (
	SubjectNone    = "none"
	SubjectPartial = "partial"
	SubjectFull    = "full"
)

// IsTerminal 判断状态是否为终态
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Generation 一次广告视频生成的聚合根，所有状态变更都经过阶段调度器
type Generation struct {
	ID                    string       `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Prompt                string       `gorm:"type:text" json:"prompt"`
	Status                string       `json:"status"`
	CurrentStageAttempt   int          `json:"current_stage_attempt"`
	Contract              *Contract    `gorm:"type:json" json:"contract,omitempty"`
	Scenes                SceneList    `gorm:"type:json" json:"scenes,omitempty"`
	StageOutputs          StageOutputs `gorm:"type:json" json:"stage_outputs"`
	FinalVideoURL         string       `json:"final_video_url,omitempty"`
	CancellationRequested bool         `json:"cancellation_requested"`
	FailureStage          string       `json:"failure_stage,omitempty"`
	FailureReason         string       `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

func (Generation) TableName() string {
	return "generation"
}

// HasStageOutput 判断某阶段的产物是否已落库（用于断点续跑）
func (g *Generation) HasStageOutput(stage string) bool {
	if g.StageOutputs == nil {
		return false
	}
	_, ok := g.StageOutputs[stage]
	return ok
}

// Scene 一个叙事单元，Index为扇出回填结果的稳定位置
type Scene struct {
	Index           int    `json:"index"`
	Title           string `json:"title"`
	Outline         string `json:"outline"`
	Description     string `json:"description,omitempty"`
	SubjectPresence string `json:"subject_presence"`
	// 以下产物各自独立可空，直到对应阶段产出
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
	FirstFrameURL     string `json:"first_frame_url,omitempty"`
	LastFrameURL      string `json:"last_frame_url,omitempty"`
	VideoURL          string `json:"video_url,omitempty"`
	Transition        string `json:"transition,omitempty"`
}

// SetVideoURL 写入视频产物。首尾帧必须先于视频产出，由生产方调用处保证
func (s *Scene) SetVideoURL(url string) error {
	if s.FirstFrameURL == "" || s.LastFrameURL == "" {
		return fmt.Errorf("scene %d: video url set before frame artifacts", s.Index)
	}
	s.VideoURL = url
	return nil
}

// Contract 跨阶段视觉一致性契约，Story阶段创建一次后只读
type Contract struct {
	Style       string `json:"style"`
	Palette     string `json:"palette"`
	Lighting    string `json:"lighting"`
	Composition string `json:"composition"`
	Mood        string `json:"mood"`
	// Subject为空表示没有贯穿全片的主体
	Subject string `json:"subject,omitempty"`
}

// RefinementAttempt 一轮生成→评审的记录，只作为阶段产物内的审计信息保留
type RefinementAttempt struct {
	AttemptNumber int     `json:"attempt_number"`
	Score         float64 `json:"score"`
	Feedback      string  `json:"feedback,omitempty"`
	Accepted      bool    `json:"accepted"`
}

// StageOutputs 阶段名 -> 已接受产物的checkpoint映射
type StageOutputs map[string]json.RawMessage

// StageScore 后台评分结果，评分失败时Score为空
type StageScore struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	GenerationID string    `gorm:"type:varchar(64);index" json:"generation_id"`
	Stage        string    `json:"stage"`
	Score        *float64  `json:"score"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (StageScore) TableName() string {
	return "stage_score"
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (c Contract) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (c *Contract) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, c)
}

type SceneList []Scene

func (l SceneList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *SceneList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, l)
}

func (o StageOutputs) Value() (driver.Value, error) {
	if o == nil {
		o = StageOutputs{}
	}
	return json.Marshal(o)
}

func (o *StageOutputs) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, o)
}
