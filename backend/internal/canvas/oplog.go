package canvas

// OperationLog 一个房间的笔画栈（插入顺序即绘制顺序，后面的盖在前面的上面）
//
// 只在尾部追加；每次撤销最多删除一条。
// 不是并发安全的：服务端由房间 goroutine 独占，客户端由 Session 加锁持有。
type OperationLog struct {
	stack []PathData
}

// NewOperationLog 用持久化的栈重建日志（nil 表示空日志）
func NewOperationLog(stack []PathData) *OperationLog {
	l := &OperationLog{stack: make([]PathData, 0, len(stack))}
	for _, p := range stack {
		l.stack = append(l.stack, p.clone())
	}
	return l
}

func (l *OperationLog) Append(p PathData) {
	l.stack = append(l.stack, p.clone())
}

// RemoveLastBy 从尾部向前找，删除该作者最近的一笔。
// 不是全局的 LIFO：别人之后画了多少笔都不影响。
func (l *OperationLog) RemoveLastBy(userID string) bool {
	for i := len(l.stack) - 1; i >= 0; i-- {
		if l.stack[i].UserID == userID {
			l.stack = append(l.stack[:i], l.stack[i+1:]...)
			return true
		}
	}
	return false
}

func (l *OperationLog) Clear() {
	l.stack = l.stack[:0]
}

// Snapshot 返回整个栈的副本（用于回放/持久化），永远不为 nil
func (l *OperationLog) Snapshot() []PathData {
	out := make([]PathData, len(l.stack))
	copy(out, l.stack)
	return out
}

func (l *OperationLog) Len() int { return len(l.stack) }

// Clone 用于"先在副本上修改、持久化成功后再提交"
func (l *OperationLog) Clone() *OperationLog {
	return &OperationLog{stack: l.Snapshot()}
}
