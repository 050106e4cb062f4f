package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"canvasService/backend/internal/canvas"
)

var roomsBucket = []byte("rooms")

// boltRoomStore 单机部署用的嵌入式存储：一个 bucket，key=roomID，value=栈的 JSON
type boltRoomStore struct {
	db *bolt.DB
}

// OpenBolt 打开（或创建）数据文件并确保 bucket 存在
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func NewBoltRoomStore(db *bolt.DB) RoomStore {
	return &boltRoomStore{db: db}
}

func (s *boltRoomStore) Load(ctx context.Context, roomID string) ([]canvas.PathData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stack []canvas.PathData
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(roomsBucket).Get([]byte(roomID))
		if v == nil {
			return nil
		}
		// v 只在事务内有效，Unmarshal 会拷贝出来
		return json.Unmarshal(v, &stack)
	})
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return stack, nil
}

func (s *boltRoomStore) Save(ctx context.Context, roomID string, stack []canvas.PathData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeStack(stack)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Put([]byte(roomID), b)
	})
}

func (s *boltRoomStore) Delete(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Delete([]byte(roomID))
	})
}
