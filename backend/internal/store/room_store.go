package store

import (
	"context"
	"errors"
	"sync"

	"canvasService/backend/internal/canvas"
)

// RoomStore 房间笔画栈的持久化接口：每个房间一条记录
//
// Load 在记录不存在时返回 (nil, nil)，房间从空日志开始。
type RoomStore interface {
	Load(ctx context.Context, roomID string) ([]canvas.PathData, error)
	Save(ctx context.Context, roomID string, stack []canvas.PathData) error
	Delete(ctx context.Context, roomID string) error
}

// Archiver 房间回收前归档最终状态（可选）
type Archiver interface {
	ArchiveRoom(ctx context.Context, roomID string, stack []canvas.PathData) error
}

var ErrUnknownDriver = errors.New("unknown storage driver")

// MemoryStore 进程内实现，用于单机调试和测试
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]canvas.PathData
}

var _ RoomStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]canvas.PathData)}
}

func (s *MemoryStore) Load(ctx context.Context, roomID string) ([]canvas.PathData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return append([]canvas.PathData(nil), stack...), nil
}

func (s *MemoryStore) Save(ctx context.Context, roomID string, stack []canvas.PathData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = append([]canvas.PathData{}, stack...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// Has 房间是否还有持久化记录
func (s *MemoryStore) Has(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}
