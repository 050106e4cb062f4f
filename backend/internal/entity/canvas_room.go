package entity

import "time"

// CanvasRoom 一个房间的持久化记录：整个笔画栈以 JSON 存一列
type CanvasRoom struct {
	RoomID    string `gorm:"primaryKey;type:varchar(128)"`
	Stack     []byte `gorm:"type:longblob;not null"`
	PathCount int    `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CanvasRoom) TableName() string { return "canvas_rooms" }

// CanvasSnapshot 房间被回收前的最终状态归档（只插入，不更新）
type CanvasSnapshot struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	RoomID     string    `gorm:"type:varchar(128);uniqueIndex:idx_room_archived"`
	PathCount  int       `gorm:"default:0"`
	Stack      []byte    `gorm:"type:longblob;not null"`
	ArchivedAt time.Time `gorm:"uniqueIndex:idx_room_archived"`
}

func (CanvasSnapshot) TableName() string { return "canvas_snapshots" }
