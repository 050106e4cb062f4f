package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeRefreshRequest = "refresh_request"
	TypeRefresh        = "refresh"
	TypePush           = "push"
	TypeUndo           = "undo"
	TypeReset          = "reset"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownType      = errors.New("unknown message type")
)

// Message 入站消息（按 type 区分），服务端和客户端共用同一个解码结构
type Message struct {
	Type   string     `json:"type"`
	UserID string     `json:"userId,omitempty"`
	Path   *PathData  `json:"path,omitempty"`
	Stack  []PathData `json:"stack,omitempty"`
}

// 出站消息：每种类型一个结构体，字段和线上格式一一对应
type RefreshRequestPayload struct {
	Type string `json:"type"` // 固定 "refresh_request"
}

type RefreshPayload struct {
	Type  string     `json:"type"` // 固定 "refresh"
	Stack []PathData `json:"stack"`
}

type PushPayload struct {
	Type   string   `json:"type"` // 固定 "push"
	UserID string   `json:"userId"`
	Path   PathData `json:"path"`
}

type UndoPayload struct {
	Type   string `json:"type"` // 固定 "undo"
	UserID string `json:"userId"`
}

type ResetPayload struct {
	Type   string `json:"type"` // 固定 "reset"
	UserID string `json:"userId"`
}

func RefreshRequestMessage() RefreshRequestPayload {
	return RefreshRequestPayload{Type: TypeRefreshRequest}
}

func RefreshMessage(stack []PathData) RefreshPayload {
	if stack == nil {
		// 空栈也要编码成 []，不能是 null
		stack = []PathData{}
	}
	return RefreshPayload{Type: TypeRefresh, Stack: stack}
}

func PushMessage(userID string, p PathData) PushPayload {
	return PushPayload{Type: TypePush, UserID: userID, Path: p}
}

func UndoMessage(userID string) UndoPayload {
	return UndoPayload{Type: TypeUndo, UserID: userID}
}

func ResetMessage(userID string) ResetPayload {
	return ResetPayload{Type: TypeReset, UserID: userID}
}

// Encode 编码成单行 JSON 文本帧
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode 解析一帧。解析失败或类型未知都只影响这一条消息，调用方丢弃即可。
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch msg.Type {
	case TypeRefreshRequest, TypeRefresh, TypeUndo, TypeReset:
	case TypePush:
		if msg.Path == nil {
			return Message{}, fmt.Errorf("%w: push without path", ErrMalformedMessage)
		}
		if err := msg.Path.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}
