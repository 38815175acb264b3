package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/match"
	"skillswap/apps/realtime-service/model"
	"skillswap/apps/realtime-service/service"
	tracecontext "skillswap/pkg/context"
	"skillswap/pkg/httpx"
	"skillswap/pkg/logger"
)

// HTTPHandler HTTP协议处理器
type HTTPHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log,
	}
}

// RegisterRoutes 注册HTTP路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	sessions := r.Group("/api/v1/sessions")
	{
		sessions.POST("", h.CreateSession)          // 发起技能交换会话
		sessions.GET("/:id", h.GetSession)          // 查询会话
		sessions.POST("/:id/actions", h.DoAction)   // 对会话执行状态动作
	}

	users := r.Group("/api/v1/users")
	{
		users.POST("/status", h.GetUsersStatus) // 批量查询在线状态
	}
}

// sessionActionRequest 会话动作请求
type sessionActionRequest struct {
	Action     string     `json:"action" binding:"required"`
	ProposedAt *time.Time `json:"proposed_at,omitempty"`
}

// usersStatusRequest 批量在线状态查询请求
type usersStatusRequest struct {
	UserIDs []int64 `json:"user_ids" binding:"required"`
}

// CreateSession 发起技能交换会话
func (h *HTTPHandler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	var req service.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error(ctx, "Invalid create session request", logger.F("error", err.Error()))
		httpx.WriteError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	// 发起人以认证身份为准
	req.RequesterID = c.GetInt64("userID")
	ctx = tracecontext.WithUserID(ctx, req.RequesterID)

	session, err := h.svc.CreateSession(ctx, &req)
	if err != nil {
		h.log.Error(ctx, "Create session failed",
			logger.F("error", err.Error()),
			logger.F("requesterID", req.RequesterID),
			logger.F("recipientID", req.RecipientID))
		httpx.WriteError(c, sessionErrorStatus(err), err.Error())
		return
	}

	h.log.Info(ctx, "Create session successful",
		logger.F("sessionID", session.ID),
		logger.F("requesterID", session.RequesterID),
		logger.F("recipientID", session.RecipientID))
	httpx.WriteObject(c, session, nil)
}

// GetSession 查询会话
func (h *HTTPHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.WriteError(c, http.StatusBadRequest, "Invalid session id")
		return
	}

	session, err := h.svc.GetSession(ctx, sessionID)
	if err != nil {
		httpx.WriteError(c, sessionErrorStatus(err), err.Error())
		return
	}
	httpx.WriteObject(c, session, nil)
}

// DoAction 对会话执行状态动作
func (h *HTTPHandler) DoAction(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.WriteError(c, http.StatusBadRequest, "Invalid session id")
		return
	}

	var req sessionActionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error(ctx, "Invalid session action request", logger.F("error", err.Error()))
		httpx.WriteError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	action, ok := match.ParseAction(req.Action)
	if !ok {
		httpx.WriteError(c, http.StatusBadRequest, "Unknown action: "+req.Action)
		return
	}

	actorID := c.GetInt64("userID")
	ctx = tracecontext.WithUserID(ctx, actorID)
	ctx = tracecontext.WithSessionID(ctx, sessionID)

	session, err := h.svc.ApplySessionAction(ctx, sessionID, action, actorID, req.ProposedAt)
	if err != nil {
		h.log.Error(ctx, "Session action failed",
			logger.F("sessionID", sessionID),
			logger.F("action", req.Action),
			logger.F("actorID", actorID),
			logger.F("error", err.Error()))
		httpx.WriteError(c, sessionErrorStatus(err), err.Error())
		return
	}

	httpx.WriteObject(c, session, nil)
}

// GetUsersStatus 批量查询在线状态
func (h *HTTPHandler) GetUsersStatus(c *gin.Context) {
	ctx := c.Request.Context()
	var req usersStatusRequest
	if err := c.Bind(&req); err != nil {
		httpx.WriteError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	reply := model.UsersStatusReply{Users: h.svc.OnlineStatus(ctx, req.UserIDs)}
	httpx.WriteObject(c, reply, nil)
}

// sessionErrorStatus 业务错误到HTTP状态码的映射
func sessionErrorStatus(err error) int {
	var invalid *match.InvalidTransitionError
	switch {
	case errors.Is(err, dao.ErrSessionNotFound), errors.Is(err, dao.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionConflict):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
