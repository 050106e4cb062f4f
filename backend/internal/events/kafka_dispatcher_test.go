package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"canvasService/backend/internal/canvas"
)

func TestKafkaDispatcher_SendsEncodedEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	path := canvas.PathData{Points: []canvas.Coord{{1, 2}}, UserID: "u1", Color: "blue", Size: 5}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got RoomEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.EventType != EventPush || got.RoomID != "room-1" || got.UserID != "u1" {
			return fmt.Errorf("unexpected event %+v", got)
		}
		if got.Path == nil || len(got.Path.Points) != 1 || got.StackLen != 1 {
			return fmt.Errorf("unexpected payload %+v", got)
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "canvas-ops", NewSemaphoreControl(2), KafkaDispatcherOptions{QueueSize: 4, Workers: 1})
	evt := NewRoomEvent(EventPush, "room-1", "u1", &path, 1)
	if evt.EventID == "" {
		t.Fatalf("event id not assigned")
	}
	if err := d.Enqueue(context.Background(), evt); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	d.Close()
}

func TestKafkaDispatcher_RetriesThenSucceeds(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "canvas-ops", nil, KafkaDispatcherOptions{
		QueueSize:   1,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	if err := d.Enqueue(context.Background(), NewRoomEvent(EventReset, "room-2", "u2", nil, 0)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	d.Close()
}

func TestKafkaDispatcher_DropsAfterMaxRetry(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := NewKafkaDispatcher(producer, "canvas-ops", nil, KafkaDispatcherOptions{
		QueueSize: 1, Workers: 1, MaxRetry: 1, BaseBackoff: time.Millisecond,
	})
	_ = d.Enqueue(context.Background(), NewRoomEvent(EventUndo, "room-3", "u3", nil, 0))
	d.Close()
}

func TestKafkaDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})
	d.Close()
	err := d.Enqueue(context.Background(), NewRoomEvent(EventPush, "r", "u", nil, 0))
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Enqueue after Close error = %v, want ErrDispatcherClosed", err)
	}
}

func TestSemaphoreControl(t *testing.T) {
	s := NewSemaphoreControl(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("second Acquire error = %v, want ErrAcquireTimeout", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("extra Release error = %v, want ErrNotAcquired", err)
	}
}
