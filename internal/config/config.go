package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Stitcher struct {
		Addr string `yaml:"addr"`
	} `yaml:"stitcher"`
	Ark struct {
		ChatModel  string `yaml:"chat_model"`
		ImageModel string `yaml:"image_model"`
		VideoModel string `yaml:"video_model"`
	} `yaml:"ark"`
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline 编排引擎的可调参数，不属于架构的部分都放在这里
type Pipeline struct {
	SceneCount            int     `yaml:"scene_count"`
	StoryMaxIterations    int     `yaml:"story_max_iterations"`
	StoryPassThreshold    float64 `yaml:"story_pass_threshold"`
	SceneMaxIterations    int     `yaml:"scene_max_iterations"`
	ScenePassThreshold    float64 `yaml:"scene_pass_threshold"`
	CohesionMaxIterations int     `yaml:"cohesion_max_iterations"`
	CohesionThreshold     float64 `yaml:"cohesion_threshold"`
	VideoConcurrency      int64   `yaml:"video_concurrency"`
	// VideoMinSuccess为0表示要求全部场景成功
	VideoMinSuccess   int `yaml:"video_min_success"`
	WorkerConcurrency int `yaml:"worker_concurrency"`

	RetryMaxRetries        uint64 `yaml:"retry_max_retries"`
	RetryInitialIntervalMS int    `yaml:"retry_initial_interval_ms"`

	RenderPollIntervalSec int `yaml:"render_poll_interval_sec"`
	RenderPollTimeoutMin  int `yaml:"render_poll_timeout_min"`
	ScoreTimeoutMin       int `yaml:"score_timeout_min"`
}

func (p Pipeline) RetryInitialInterval() time.Duration {
	if p.RetryInitialIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.RetryInitialIntervalMS) * time.Millisecond
}

func (p Pipeline) RenderPollInterval() time.Duration {
	if p.RenderPollIntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.RenderPollIntervalSec) * time.Second
}

func (p Pipeline) RenderPollTimeout() time.Duration {
	if p.RenderPollTimeoutMin <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.RenderPollTimeoutMin) * time.Minute
}

func (p Pipeline) ScoreTimeout() time.Duration {
	if p.ScoreTimeoutMin <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.ScoreTimeoutMin) * time.Minute
}

var AppConfig *Config

func InitConfig() {
	path := os.Getenv("ADREEL_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}
	applyDefaults(AppConfig)
}

func applyDefaults(c *Config) {
	p := &c.Pipeline
	if p.SceneCount <= 0 {
		p.SceneCount = 3
	}
	if p.StoryMaxIterations <= 0 {
		p.StoryMaxIterations = 3
	}
	if p.StoryPassThreshold <= 0 {
		p.StoryPassThreshold = 80
	}
	if p.SceneMaxIterations <= 0 {
		p.SceneMaxIterations = 3
	}
	if p.ScenePassThreshold <= 0 {
		p.ScenePassThreshold = 80
	}
	if p.CohesionMaxIterations <= 0 {
		p.CohesionMaxIterations = 2
	}
	if p.CohesionThreshold <= 0 {
		p.CohesionThreshold = 85
	}
	if p.VideoConcurrency <= 0 {
		p.VideoConcurrency = 3
	}
	if p.WorkerConcurrency <= 0 {
		p.WorkerConcurrency = 5
	}
	if p.RetryMaxRetries == 0 {
		p.RetryMaxRetries = 3
	}
}
