package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event 推送给前端的进度事件
type Event struct {
	GenerationID string      `json:"generation_id"`
	Stage        string      `json:"stage,omitempty"`
	Type         string      `json:"type"`
	Payload      interface{} `json:"payload,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Hub 进程内事件分发器，按generation_id维护订阅者。
// 慢消费者直接丢弃事件，不允许阻塞流水线
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
	log  *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
		log:  logrus.WithField("component", "event_hub"),
	}
}

// Subscribe 返回该generation的事件通道与取消函数
func (h *Hub) Subscribe(generationID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	if h.subs[generationID] == nil {
		h.subs[generationID] = make(map[chan Event]struct{})
	}
	h.subs[generationID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[generationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, generationID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Emit 实现engine.EventSink
func (h *Hub) Emit(generationID, stage, eventType string, payload interface{}) {
	evt := Event{
		GenerationID: generationID,
		Stage:        stage,
		Type:         eventType,
		Payload:      payload,
		Timestamp:    time.Now(),
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[generationID] {
		select {
		case ch <- evt:
		default:
			h.log.Warnf("event dropped for slow subscriber, generation=%s type=%s", generationID, eventType)
		}
	}
}
