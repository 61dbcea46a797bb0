package service

import "errors"

var (
	// ErrRoomNotFound 表示按房间码没有找到房间。
	// 在边界处理并展示给用户，不触发任何写入。
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomCodeExhausted 表示多次尝试后仍未生成唯一房间码。
	ErrRoomCodeExhausted = errors.New("failed to generate a unique room code")
	// ErrEntryNotFound 表示要删除的队列条目已不存在。
	ErrEntryNotFound = errors.New("queue entry not found")
)
