package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/service"
)

// HandleServiceError 把业务错误映射为 HTTP 状态码。
// 校验类错误是 400，找不到是 404，其余一律 500 且不透出内部细节。
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRoomCode),
		errors.Is(err, domain.ErrInvalidDisplayName),
		errors.Is(err, domain.ErrInvalidMessage),
		errors.Is(err, domain.ErrInvalidVideoID),
		errors.Is(err, domain.ErrInvalidVideoTitle),
		errors.Is(err, domain.ErrMissingThumbnail),
		errors.Is(err, domain.ErrEmptyQuery):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
