package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/service"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// VideoSearcher 是视频元数据搜索的最小依赖面。
type VideoSearcher interface {
	Search(ctx context.Context, query string) ([]domain.VideoResult, error)
}

// RoomHandler 封装房间管理相关的 HTTP 处理逻辑。
// 房间内的实时交互走存储订阅，不经过这里；HTTP 面只负责
// 创建/查询房间和视频搜索这类请求-响应操作。
type RoomHandler struct {
	sessions *service.SessionManager
	store    store.Store
	search   VideoSearcher
}

// NewRoomHandler 创建 RoomHandler 实例。search 可以为 nil（未配置 API key）。
func NewRoomHandler(sessions *service.SessionManager, st store.Store, search VideoSearcher) *RoomHandler {
	if sessions == nil {
		panic("session manager cannot be nil for RoomHandler")
	}
	if st == nil {
		panic("store cannot be nil for RoomHandler")
	}
	return &RoomHandler{sessions: sessions, store: st, search: search}
}

// CreateRoomRequest 定义创建房间请求的结构体。
type CreateRoomRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体。
type CreateRoomResponse struct {
	RoomCode  string `json:"roomCode"`
	CreatedAt int64  `json:"createdAt"`
}

// CreateRoom 处理创建新房间的请求。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: displayName is required")
		return
	}

	room, err := h.sessions.CreateRoom(c.Request.Context(), req.DisplayName)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("room", room.Code).Info("Handler.CreateRoom: Room created")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		RoomCode:  room.Code,
		CreatedAt: room.CreatedAt,
	})
}

// RoomInfoResponse 定义房间查询的响应结构体。
type RoomInfoResponse struct {
	RoomCode    string `json:"roomCode"`
	CreatedAt   int64  `json:"createdAt"`
	CreatedBy   string `json:"createdBy"`
	MemberCount int    `json:"memberCount"`
}

// GetRoom 返回房间元数据和在线人数，供加入前的预检。
func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := domain.NormalizeRoomCode(c.Param("code"))
	if err := domain.ValidateRoomCode(code); err != nil {
		HandleServiceError(c, err)
		return
	}

	raw, err := h.store.ReadField(c.Request.Context(), store.RoomsIndex(), code)
	if errors.Is(err, store.ErrAbsent) {
		HandleServiceError(c, service.ErrRoomNotFound)
		return
	}
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	room, err := domain.DecodeRoom(code, raw)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	members, err := h.store.Read(c.Request.Context(), store.RoomMembers(code))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, RoomInfoResponse{
		RoomCode:    room.Code,
		CreatedAt:   room.CreatedAt,
		CreatedBy:   room.CreatedBy,
		MemberCount: len(members),
	})
}

// SearchVideos 处理视频元数据搜索请求。
func (h *RoomHandler) SearchVideos(c *gin.Context) {
	if h.search == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "Video search is not configured")
		return
	}
	results, err := h.search.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		logrus.WithError(err).Error("Handler.SearchVideos: Search failed")
		ErrorResponse(c, http.StatusBadGateway, "Video search failed")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"results": results})
}

// Health 是存活探针。
func (h *RoomHandler) Health(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"status": "ok"})
}
