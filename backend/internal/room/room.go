package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/events"
)

var (
	ErrRoomClosed     = errors.New("room closed")
	ErrLoadFailed     = errors.New("room log could not be loaded")
	ErrRegistryClosed = errors.New("room registry closed")
)

// Socket 房间眼里的一条连接。Send 只入队不阻塞，队列满或已关闭时返回 false。
type Socket interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

type State int

const (
	StateEmpty State = iota
	StateActive
	StateIdle
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Stats struct {
	RoomID          string `json:"roomId"`
	State           string `json:"state"`
	Connections     int    `json:"connections"`
	Length          int    `json:"length"`
	PersistFailures int    `json:"persistFailures"`
	Degraded        bool   `json:"degraded"`
	LastError       string `json:"lastError,omitempty"`
}

// Room 一个房间一个 goroutine：所有事件经 inbox 串行处理，
// 持久化完成之前不会处理下一个事件。
type Room struct {
	id   string
	reg  *Registry
	opts *Options

	inbox chan func()
	done  chan struct{}

	// 以下字段只在房间 goroutine 里访问
	state   State
	log     *canvas.OperationLog // nil 表示还没加载
	sockets map[string]Socket

	timer       *time.Timer
	timerGen    uint64
	alarmArmed  bool
	persistErrs int
	degraded    bool
	lastErr     error
}

func newRoom(id string, reg *Registry) *Room {
	return &Room{
		id:      id,
		reg:     reg,
		opts:    &reg.opts,
		inbox:   make(chan func(), reg.opts.InboxSize),
		done:    make(chan struct{}),
		sockets: make(map[string]Socket),
		// 上一个进程可能留下了闹钟，第一次加入时顺手撤掉
		alarmArmed: reg.opts.Alarms != nil,
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	defer r.reg.wg.Done()
	defer close(r.done)
	for {
		select {
		case f := <-r.inbox:
			f()
			if r.state == StateDestroyed {
				return
			}
		case <-r.reg.ctx.Done():
			r.shutdown()
			return
		}
	}
}

func (r *Room) submit(ctx context.Context, f func()) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- f:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call 投递并等待结果。房间中途退出时返回 ErrRoomClosed。
func (r *Room) call(ctx context.Context, f func() error) error {
	errc := make(chan error, 1)
	if err := r.submit(ctx, func() { errc <- f() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-r.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

func (r *Room) join(ctx context.Context, s Socket) error {
	return r.call(ctx, func() error { return r.handleJoin(s) })
}

// Deliver 把一帧交给房间处理；inbox 满时阻塞读循环（背压）
func (r *Room) Deliver(ctx context.Context, s Socket, data []byte) error {
	return r.submit(ctx, func() { r.handleMessage(s, data) })
}

func (r *Room) Leave(s Socket) {
	_ = r.submit(context.Background(), func() { r.handleLeave(s) })
}

func (r *Room) stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.call(ctx, func() error {
		st = Stats{
			RoomID:          r.id,
			State:           r.state.String(),
			Connections:     len(r.sockets),
			PersistFailures: r.persistErrs,
			Degraded:        r.degraded,
		}
		if r.log != nil {
			st.Length = r.log.Len()
		}
		if r.lastErr != nil {
			st.LastError = r.lastErr.Error()
		}
		return nil
	})
	return st, err
}

func (r *Room) snapshot(ctx context.Context) ([]canvas.PathData, bool, error) {
	var (
		stack  []canvas.PathData
		loaded bool
	)
	err := r.call(ctx, func() error {
		if r.log != nil {
			stack, loaded = r.log.Snapshot(), true
		}
		return nil
	})
	return stack, loaded, err
}

func (r *Room) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.reg.ctx, r.opts.PersistTimeout)
}

func (r *Room) ensureLoaded() error {
	if r.log != nil {
		return nil
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	stack, err := r.opts.Store.Load(ctx, r.id)
	if err != nil {
		return fmt.Errorf("%w: room=%s: %v", ErrLoadFailed, r.id, err)
	}
	r.log = canvas.NewOperationLog(stack)
	return nil
}

func (r *Room) handleJoin(s Socket) error {
	if err := r.ensureLoaded(); err != nil {
		log.Printf("room=%s load failed: %v", r.id, err)
		if len(r.sockets) == 0 {
			// 没人在线就退出，下一次加入会换一个新的 goroutine 重新加载
			r.retire()
		}
		return err
	}
	r.cancelReclaim()
	r.sockets[s.ID()] = s
	r.state = StateActive
	return nil
}

func (r *Room) handleLeave(s Socket) {
	if cur, ok := r.sockets[s.ID()]; !ok || cur != s {
		return
	}
	delete(r.sockets, s.ID())
	if len(r.sockets) == 0 {
		r.enterIdle()
	}
}

func (r *Room) handleMessage(s Socket, data []byte) {
	if _, ok := r.sockets[s.ID()]; !ok {
		return
	}
	msg, err := canvas.Decode(data)
	if err != nil {
		log.Printf("room=%s conn=%s drop message: %v", r.id, s.ID(), err)
		return
	}
	switch msg.Type {
	case canvas.TypeRefreshRequest:
		r.sendTo(s, canvas.RefreshMessage(r.log.Snapshot()))

	case canvas.TypePush:
		p := *msg.Path
		next := r.log.Clone()
		next.Append(p)
		r.persistAndCommit(s, next,
			canvas.PushMessage(msg.UserID, p),
			events.NewRoomEvent(events.EventPush, r.id, p.UserID, &p, next.Len()))

	case canvas.TypeUndo:
		next := r.log.Clone()
		if !next.RemoveLastBy(msg.UserID) {
			return // 没有可撤销的笔画：不持久化也不广播
		}
		r.persistAndCommit(s, next,
			canvas.UndoMessage(msg.UserID),
			events.NewRoomEvent(events.EventUndo, r.id, msg.UserID, nil, next.Len()))

	case canvas.TypeReset:
		r.persistAndCommit(s, canvas.NewOperationLog(nil),
			canvas.ResetMessage(msg.UserID),
			events.NewRoomEvent(events.EventReset, r.id, msg.UserID, nil, 0))

	default:
		log.Printf("room=%s conn=%s drop message: unexpected type %q", r.id, s.ID(), msg.Type)
	}
}

// persistAndCommit 先落库，成功后才替换内存日志并广播（不含发送者）
func (r *Room) persistAndCommit(sender Socket, next *canvas.OperationLog, out any, evt events.RoomEvent) {
	ctx, cancel := r.opCtx()
	err := r.opts.Store.Save(ctx, r.id, next.Snapshot())
	cancel()
	if err != nil {
		r.persistErrs++
		r.degraded = true
		r.lastErr = err
		log.Printf("room=%s persist %s failed (failures=%d): %v", r.id, evt.EventType, r.persistErrs, err)
		return
	}
	r.degraded = false
	r.log = next
	r.broadcast(sender, out)
	r.emit(evt)
}

func (r *Room) broadcast(sender Socket, v any) {
	frame, err := canvas.Encode(v)
	if err != nil {
		log.Printf("room=%s encode broadcast: %v", r.id, err)
		return
	}
	for id, s := range r.sockets {
		if sender != nil && id == sender.ID() {
			continue
		}
		if !s.Send(frame) {
			// 发送队列满：断开让它重连后通过 refresh 追平
			log.Printf("room=%s conn=%s send queue full, closing", r.id, id)
			s.Close()
		}
	}
}

func (r *Room) sendTo(s Socket, v any) {
	frame, err := canvas.Encode(v)
	if err != nil {
		log.Printf("room=%s encode reply: %v", r.id, err)
		return
	}
	if !s.Send(frame) {
		s.Close()
	}
}

func (r *Room) emit(evt events.RoomEvent) {
	ctx, cancel := context.WithTimeout(r.reg.ctx, r.opts.EventTimeout)
	defer cancel()
	if err := r.opts.Events.Enqueue(ctx, evt); err != nil {
		log.Printf("room=%s enqueue event %s: %v", r.id, evt.EventType, err)
	}
}

func (r *Room) enterIdle() {
	r.state = StateIdle
	r.timerGen++
	gen := r.timerGen
	r.timer = time.AfterFunc(r.opts.IdleTimeout, func() {
		_ = r.submit(r.reg.ctx, func() { r.onReclaimTimer(gen) })
	})
	if r.opts.Alarms != nil {
		ctx, cancel := r.opCtx()
		defer cancel()
		if err := r.opts.Alarms.Arm(ctx, r.id, time.Now().Add(r.opts.IdleTimeout)); err != nil {
			log.Printf("room=%s arm alarm: %v", r.id, err)
			return
		}
		r.alarmArmed = true
	}
}

func (r *Room) cancelReclaim() {
	r.timerGen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.disarm()
}

func (r *Room) disarm() {
	if r.opts.Alarms == nil || !r.alarmArmed {
		return
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	if err := r.opts.Alarms.Disarm(ctx, r.id); err != nil {
		log.Printf("room=%s disarm alarm: %v", r.id, err)
		return
	}
	r.alarmArmed = false
}

func (r *Room) onReclaimTimer(gen uint64) {
	// 过期的定时器（中途有人加入过）或者又有连接了
	if gen != r.timerGen || len(r.sockets) > 0 {
		return
	}
	r.timer = nil
	r.reclaim()
}

// onAlarmDue 由 sweeper 触发：进程重启后内存定时器已丢失
func (r *Room) onAlarmDue() (bool, error) {
	if len(r.sockets) > 0 {
		r.alarmArmed = true
		r.disarm()
		return false, nil
	}
	if err := r.ensureLoaded(); err != nil {
		r.retire()
		return false, err
	}
	r.cancelReclaim()
	return r.reclaim(), nil
}

func (r *Room) reclaim() bool {
	stack := r.log.Snapshot()
	ctx, cancel := r.opCtx()
	defer cancel()

	if r.opts.Archiver != nil && len(stack) > 0 {
		if err := r.opts.Archiver.ArchiveRoom(ctx, r.id, stack); err != nil {
			log.Printf("room=%s archive before reclaim: %v", r.id, err)
		}
	}
	if err := r.opts.Store.Delete(ctx, r.id); err != nil {
		// 删除失败就保持 idle，稍后再试
		log.Printf("room=%s delete persisted state: %v", r.id, err)
		r.lastErr = err
		r.enterIdle()
		return false
	}
	r.alarmArmed = r.opts.Alarms != nil
	r.disarm()
	r.emit(events.NewRoomEvent(events.EventRoomReclaimed, r.id, "", nil, len(stack)))
	log.Printf("room=%s reclaimed (paths=%d)", r.id, len(stack))
	r.retire()
	return true
}

func (r *Room) retire() {
	r.state = StateDestroyed
	r.reg.forget(r.id, r)
}

// shutdown 进程退出：关闭连接，不回收。闹钟留在 Redis 里，重启后由 sweeper 处理。
func (r *Room) shutdown() {
	if r.timer != nil {
		r.timer.Stop()
	}
	for _, s := range r.sockets {
		s.Close()
	}
	r.sockets = map[string]Socket{}
}
