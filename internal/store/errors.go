package store

import "errors"

var (
	// ErrAbsent 表示请求的路径或 key 不存在。
	ErrAbsent = errors.New("store: value absent")
	// ErrClosed 表示存储客户端已关闭，后续操作全部拒绝。
	ErrClosed = errors.New("store: client closed")
)
