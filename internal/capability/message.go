package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
)

// ErrMalformed — сообщение не удалось разобрать.
var ErrMalformed = errors.New("malformed capability message")

// statusOffline — маркер last will.
const statusOffline = "offline"

// EventKind — тип входящего capability-сообщения.
type EventKind int

const (
	// EventUpdate — обычный broadcast.
	EventUpdate EventKind = iota

	// EventCleared — пустой retained payload, штатное завершение воркера.
	EventCleared

	// EventOffline — last will, нечистый разрыв соединения.
	EventOffline
)

// Event — разобранное capability-сообщение.
type Event struct {
	Kind     EventKind
	WorkerID string

	// Record заполнен только для EventUpdate.
	Record domain.WorkerCapability
}

// wireMessage — JSON-формат сообщения в топике.
type wireMessage struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities,omitempty"`
	IdleCount    *int     `json:"idle_count,omitempty"`
	Idle         *bool    `json:"idle,omitempty"`
	Timestamp    int64    `json:"timestamp,omitempty"`
	Status       string   `json:"status,omitempty"`
}

// Topic возвращает топик воркера.
func Topic(prefix, workerID string) string {
	return prefix + "/" + workerID
}

// SubscriptionPattern возвращает шаблон подписки на всех воркеров.
func SubscriptionPattern(prefix string) string {
	return prefix + "/+"
}

// Encode сериализует запись для публикации.
func Encode(rec domain.WorkerCapability) ([]byte, error) {
	idle := rec.IdleCount
	return json.Marshal(wireMessage{
		ID:           rec.WorkerID,
		Capabilities: rec.TaskTypes,
		IdleCount:    &idle,
		Timestamp:    rec.Timestamp.UnixMilli(),
	})
}

// OfflinePayload возвращает payload last will для воркера.
func OfflinePayload(workerID string) []byte {
	b, _ := json.Marshal(wireMessage{ID: workerID, Status: statusOffline})
	return b
}

// Decode разбирает входящее сообщение.
//
// ID воркера берётся из payload, а если его нет — из последнего уровня топика.
// idle принимается и как счётчик (idle_count), и как флаг (idle).
func Decode(msg pubsub.Message) (Event, error) {
	topicID := pubsub.LastLevel(msg.Topic)

	if len(bytes.TrimSpace(msg.Payload)) == 0 {
		if topicID == "" {
			return Event{}, fmt.Errorf("%w: empty topic level", ErrMalformed)
		}
		return Event{Kind: EventCleared, WorkerID: topicID}, nil
	}

	var w wireMessage
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id := w.ID
	if id == "" {
		id = topicID
	}
	if id == "" {
		return Event{}, fmt.Errorf("%w: missing worker id", ErrMalformed)
	}

	if w.Status == statusOffline {
		return Event{Kind: EventOffline, WorkerID: id}, nil
	}

	if w.Timestamp <= 0 {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}

	idle := 0
	switch {
	case w.IdleCount != nil:
		idle = *w.IdleCount
	case w.Idle != nil && *w.Idle:
		idle = 1
	}

	ts := time.UnixMilli(w.Timestamp).UTC()
	return Event{
		Kind:     EventUpdate,
		WorkerID: id,
		Record:   domain.NewWorkerCapability(id, w.Capabilities, idle, ts),
	}, nil
}
