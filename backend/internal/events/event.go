package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"canvasService/backend/internal/canvas"
)

const (
	EventPush          = "PUSH"
	EventUndo          = "UNDO"
	EventReset         = "RESET"
	EventRoomReclaimed = "ROOM_RECLAIMED"
)

// RoomEvent 已提交到房间日志的一次变更（或房间被回收）
type RoomEvent struct {
	EventType  string           `json:"eventType"`
	EventID    string           `json:"eventId"`
	RoomID     string           `json:"roomId"`
	UserID     string           `json:"userId,omitempty"`
	Path       *canvas.PathData `json:"path,omitempty"`
	StackLen   int              `json:"stackLen"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func NewRoomEvent(eventType, roomID, userID string, path *canvas.PathData, stackLen int) RoomEvent {
	return RoomEvent{
		EventType:  eventType,
		EventID:    uuid.NewString(),
		RoomID:     roomID,
		UserID:     userID,
		Path:       path,
		StackLen:   stackLen,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink 房间只依赖这个接口；Kafka 关闭时用 NopSink
type Sink interface {
	Enqueue(ctx context.Context, evt RoomEvent) error
}

type NopSink struct{}

func (NopSink) Enqueue(context.Context, RoomEvent) error { return nil }
