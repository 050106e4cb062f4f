package session

import (
	"log"
	"sync"

	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/client"
)

const (
	DefaultColor = "blue"
	DefaultSize  = 5.0
	EraserColor  = "white"
	EraserSize   = 30.0
)

// Sender client.Manager 满足这个接口
type Sender interface {
	Send(v any) bool
}

// Renderer 渲染层（画布）由外部实现
type Renderer interface {
	// DrawStroke 正在画的一笔，每加一个点调用一次
	DrawStroke(p canvas.PathData)
	DrawPath(p canvas.PathData)
	Redraw(stack []canvas.PathData)
}

// Session 一个客户端在一个房间里的本地状态：已提交的笔画栈 + 正在画的一笔。
// 远端消息的处理规则和服务端房间完全一致。
type Session struct {
	userID   string
	sender   Sender
	renderer Renderer

	mu       sync.Mutex
	log      *canvas.OperationLog
	stroke   *canvas.PathData
	color    string
	size     float64
	eraser   bool
	penColor string
	penSize  float64
}

var _ client.Handler = (*Session)(nil)

func New(userID string, sender Sender, renderer Renderer) *Session {
	return &Session{
		userID:   userID,
		sender:   sender,
		renderer: renderer,
		log:      canvas.NewOperationLog(nil),
		color:    DefaultColor,
		size:     DefaultSize,
	}
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) SetColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eraser {
		s.penColor = color
		return
	}
	s.color = color
}

func (s *Session) SetSize(size float64) {
	if size <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eraser {
		s.penSize = size
		return
	}
	s.size = size
}

// SetEraser 橡皮擦就是白色粗笔；关闭后恢复原来的颜色和粗细
func (s *Session) SetEraser(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on == s.eraser {
		return
	}
	s.eraser = on
	if on {
		s.penColor, s.penSize = s.color, s.size
		s.color, s.size = EraserColor, EraserSize
		return
	}
	s.color, s.size = s.penColor, s.penSize
}

// Brush 当前的颜色和粗细
func (s *Session) Brush() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color, s.size
}

// BeginOrContinueStroke 第一个点时按当前画笔建一笔，之后改画笔不影响这一笔
func (s *Session) BeginOrContinueStroke(pt canvas.Coord) {
	s.mu.Lock()
	if s.stroke == nil {
		s.stroke = &canvas.PathData{UserID: s.userID, Color: s.color, Size: s.size}
	}
	s.stroke.Points = append(s.stroke.Points, pt)
	live := *s.stroke
	live.Points = append([]canvas.Coord(nil), s.stroke.Points...)
	s.mu.Unlock()
	s.renderer.DrawStroke(live)
}

// CommitStroke 抬笔：把正在画的一笔提交到本地栈并发给房间。没有点时什么都不做。
func (s *Session) CommitStroke() (canvas.PathData, bool) {
	s.mu.Lock()
	if s.stroke == nil {
		s.mu.Unlock()
		return canvas.PathData{}, false
	}
	p := *s.stroke
	s.stroke = nil
	s.log.Append(p)
	s.mu.Unlock()

	if !s.sender.Send(canvas.PushMessage(s.userID, p)) {
		log.Printf("session %s: push dropped while disconnected", s.userID)
	}
	return p, true
}

// Undo 撤销自己最近的一笔。
// 本地没有匹配也照样发送：本地栈可能被 refresh 覆盖过，而服务端还留着这一笔。
// 返回本地是否删掉了一笔，只有删掉时才重绘。
func (s *Session) Undo() bool {
	s.mu.Lock()
	removed := s.log.RemoveLastBy(s.userID)
	stack := s.log.Snapshot()
	s.mu.Unlock()
	if removed {
		s.renderer.Redraw(stack)
	}
	if !s.sender.Send(canvas.UndoMessage(s.userID)) {
		log.Printf("session %s: undo dropped while disconnected", s.userID)
	}
	return removed
}

// Reset 清空画布，正在画的一笔也一起丢弃
func (s *Session) Reset() {
	s.mu.Lock()
	s.stroke = nil
	s.log.Clear()
	s.mu.Unlock()
	s.renderer.Redraw([]canvas.PathData{})
	s.sender.Send(canvas.ResetMessage(s.userID))
}

// Stack 本地已提交笔画的副本
func (s *Session) Stack() []canvas.PathData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Snapshot()
}

// InProgress 正在画的一笔的点数
func (s *Session) InProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stroke == nil {
		return 0
	}
	return len(s.stroke.Points)
}

func (s *Session) OnConnect() {
	log.Printf("session %s: connected, waiting for refresh", s.userID)
}

func (s *Session) OnDisconnect(err error) {
	log.Printf("session %s: disconnected: %v", s.userID, err)
}

func (s *Session) OnMessage(data []byte) {
	msg, err := canvas.Decode(data)
	if err != nil {
		log.Printf("session %s: drop message: %v", s.userID, err)
		return
	}
	switch msg.Type {
	case canvas.TypePush:
		p := *msg.Path
		s.mu.Lock()
		s.log.Append(p)
		s.mu.Unlock()
		s.renderer.DrawPath(p)

	case canvas.TypeUndo:
		// 按消息里的作者撤销，不是本地用户
		s.mu.Lock()
		removed := s.log.RemoveLastBy(msg.UserID)
		stack := s.log.Snapshot()
		s.mu.Unlock()
		if removed {
			s.renderer.Redraw(stack)
		}

	case canvas.TypeReset:
		s.mu.Lock()
		s.log.Clear()
		s.mu.Unlock()
		s.renderer.Redraw([]canvas.PathData{})

	case canvas.TypeRefresh:
		s.mu.Lock()
		s.log = canvas.NewOperationLog(msg.Stack)
		stack := s.log.Snapshot()
		s.mu.Unlock()
		s.renderer.Redraw(stack)
	}
}
