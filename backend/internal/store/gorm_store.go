package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/entity"
)

// InitMySQL 打开 gorm 连接并建表
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&entity.CanvasRoom{}, &entity.CanvasSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate canvas tables: %w", err)
	}
	return db, nil
}

type gormRoomStore struct {
	db *gorm.DB
}

func NewGormRoomStore(db *gorm.DB) RoomStore {
	return &gormRoomStore{db: db}
}

func (s *gormRoomStore) Load(ctx context.Context, roomID string) ([]canvas.PathData, error) {
	var row entity.CanvasRoom
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 新房间
		}
		return nil, err
	}
	var stack []canvas.PathData
	if err := json.Unmarshal(row.Stack, &stack); err != nil {
		return nil, fmt.Errorf("decode stack of room %s: %w", roomID, err)
	}
	return stack, nil
}

func (s *gormRoomStore) Save(ctx context.Context, roomID string, stack []canvas.PathData) error {
	b, err := encodeStack(stack)
	if err != nil {
		return err
	}
	row := entity.CanvasRoom{RoomID: roomID, Stack: b, PathCount: len(stack)}
	// 有则整行覆盖，无则插入
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stack", "path_count", "updated_at"}),
	}).Create(&row).Error
}

func (s *gormRoomStore) Delete(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&entity.CanvasRoom{}).Error
}

func encodeStack(stack []canvas.PathData) ([]byte, error) {
	if stack == nil {
		stack = []canvas.PathData{}
	}
	return json.Marshal(stack)
}
