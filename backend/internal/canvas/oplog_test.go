package canvas

import (
	"reflect"
	"testing"
)

func path(user string, x float64) PathData {
	return PathData{Points: []Coord{{x, x}}, UserID: user, Color: "blue", Size: 5}
}

func TestOperationLog_UndoTargetsAuthorsLatest(t *testing.T) {
	l := NewOperationLog(nil)
	p1, p2, p3 := path("A", 1), path("B", 2), path("A", 3)
	l.Append(p1)
	l.Append(p2)
	l.Append(p3)

	if !l.RemoveLastBy("A") {
		t.Fatalf("RemoveLastBy(A) = false, want true")
	}
	if got, want := l.Snapshot(), []PathData{p1, p2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after first undo = %v, want %v", got, want)
	}

	// 第二次撤销删掉 p1，B 的 p2 不受影响
	if !l.RemoveLastBy("A") {
		t.Fatalf("second RemoveLastBy(A) = false, want true")
	}
	if got, want := l.Snapshot(), []PathData{p2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after second undo = %v, want %v", got, want)
	}

	// A 已经没有笔画了：no-op
	if l.RemoveLastBy("A") {
		t.Fatalf("third RemoveLastBy(A) = true, want false")
	}
	if got, want := l.Snapshot(), []PathData{p2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after no-op undo = %v, want %v", got, want)
	}
}

func TestOperationLog_UndoMatchesReplayModel(t *testing.T) {
	type step struct {
		push bool
		user string
	}
	steps := []step{
		{true, "A"}, {true, "B"}, {true, "A"}, {false, "B"}, {true, "C"},
		{true, "B"}, {false, "A"}, {false, "A"}, {false, "A"}, {true, "A"},
		{false, "C"}, {false, "B"}, {true, "B"}, {false, "Z"},
	}

	l := NewOperationLog(nil)
	var model []PathData
	for i, s := range steps {
		if s.push {
			p := path(s.user, float64(i))
			l.Append(p)
			model = append(model, p)
			continue
		}
		removed := l.RemoveLastBy(s.user)
		found := false
		for j := len(model) - 1; j >= 0; j-- {
			if model[j].UserID == s.user {
				model = append(model[:j:j], model[j+1:]...)
				found = true
				break
			}
		}
		if removed != found {
			t.Fatalf("step %d: RemoveLastBy(%s) = %v, model says %v", i, s.user, removed, found)
		}
	}
	if got := l.Snapshot(); !reflect.DeepEqual(got, model) && !(len(got) == 0 && len(model) == 0) {
		t.Fatalf("Snapshot() = %v, want %v", got, model)
	}
}

func TestOperationLog_ClearAndRehydrate(t *testing.T) {
	stack := []PathData{path("A", 1), path("B", 2)}
	l := NewOperationLog(stack)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	// 修改传入的切片不能影响日志
	stack[0].Points[0] = Coord{99, 99}
	if got := l.Snapshot()[0].Points[0]; got != (Coord{1, 1}) {
		t.Fatalf("log aliased caller points: %v", got)
	}

	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", l.Len())
	}
	if snap := l.Snapshot(); snap == nil || len(snap) != 0 {
		t.Fatalf("Snapshot() after Clear = %#v, want empty non-nil", snap)
	}
}

func TestOperationLog_CloneIsIndependent(t *testing.T) {
	l := NewOperationLog([]PathData{path("A", 1)})
	c := l.Clone()
	c.Append(path("B", 2))
	c.RemoveLastBy("A")

	if l.Len() != 1 || l.Snapshot()[0].UserID != "A" {
		t.Fatalf("original changed through clone: %v", l.Snapshot())
	}
}
