package domain

import "errors"

// 边界校验错误。
// 这些错误必须在任何一次存储写入之前返回给调用方（内联展示给用户），
// 绝不允许进入同步核心。
var (
	ErrInvalidRoomCode    = errors.New("domain: room code must be 6 uppercase alphanumeric characters")
	ErrInvalidDisplayName = errors.New("domain: display name must be 1-20 characters")
	ErrInvalidMessage     = errors.New("domain: message must be 1-200 characters")
	ErrInvalidVideoID     = errors.New("domain: video id must be an 11 character token")
	ErrInvalidVideoTitle  = errors.New("domain: video title must be non-empty and at most 100 characters")
	ErrMissingThumbnail   = errors.New("domain: video thumbnail url is required")
	ErrEmptyQuery         = errors.New("domain: search query cannot be empty")
)
