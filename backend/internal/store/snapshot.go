package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"canvasService/backend/internal/canvas"
)

// SnapshotStore 房间回收前的归档，直接走 database/sql
type SnapshotStore struct{ db *sql.DB }

var _ Archiver = (*SnapshotStore)(nil)

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) ArchiveRoom(ctx context.Context, roomID string, stack []canvas.PathData) error {
	b, err := encodeStack(stack)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO canvas_snapshots (room_id, path_count, stack, archived_at)
		VALUES (?, ?, ?, ?)`,
		roomID,
		len(stack),
		b,
		time.Now().UTC(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 同一时刻重复归档，视为成功
			return nil
		}
		return err
	}
	return nil
}
