package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wisp-social/roomcore/internal/app"
	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

type Handlers struct {
	Registry *app.Registry
	Facade   *core.Facade
	Repo     *core.Repository
}

func (h *Handlers) session(c *gin.Context) *core.Session {
	return h.Registry.GetOrCreate(c.GetString("client_token"))
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
	Level       int    `json:"level"`
}

func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		return
	}
	sess := h.Registry.UpdateProfile(c.GetString("client_token"), req.DisplayName, req.PhotoURL, req.Level)
	c.JSON(http.StatusOK, gin.H{
		"userId":      sess.UserID,
		"displayName": sess.DisplayName,
		"level":       sess.Level,
	})
}

type createRoomRequest struct {
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	Visibility      string              `json:"visibility"`
	MaxParticipants int                 `json:"maxParticipants"`
	Location        *domain.Coordinates `json:"location"`
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	sess := h.session(c)
	id, err := h.Repo.CreateRoom(c.Request.Context(), core.CreateRoomParams{
		Name:            req.Name,
		Description:     req.Description,
		Visibility:      domain.Visibility(req.Visibility),
		MaxParticipants: req.MaxParticipants,
		CreatedBy:       sess.UserID,
		Location:        req.Location,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.FailureMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"roomId": id})
}

func (h *Handlers) ListRooms(c *gin.Context) {
	rooms, err := h.Repo.OpenRooms(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.FailureMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handlers) GetRoom(c *gin.Context) {
	room, err := h.Repo.GetRoom(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.FailureMessage(err)})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handlers) JoinRoom(c *gin.Context) {
	sess := h.session(c)
	res := h.Facade.HandleJoinRoom(c.Request.Context(), sess, domain.RoomID(c.Param("id")))
	writeEntryResult(c, res, sess)
}

func (h *Handlers) QuickEntry(c *gin.Context) {
	sess := h.session(c)
	res := h.Facade.HandleQuickEntry(c.Request.Context(), sess)
	writeEntryResult(c, res, sess)
}

func (h *Handlers) SafeExit(c *gin.Context) {
	sess := h.session(c)
	if err := h.Facade.HandleSafeExit(c.Request.Context(), sess); err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.FailureMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type flagsRequest struct {
	Muted    *bool `json:"muted"`
	Speaking *bool `json:"speaking"`
}

func (h *Handlers) SetFlags(c *gin.Context) {
	var req flagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flags"})
		return
	}
	sess := h.session(c)
	err := h.Repo.SetParticipantFlags(c.Request.Context(), domain.RoomID(c.Param("id")), sess.UserID,
		core.ParticipantFlags{Muted: req.Muted, Speaking: req.Speaking})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.FailureMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeEntryResult(c *gin.Context, res core.EntryResult, sess *core.Session) {
	if !res.Success {
		body := gin.H{"success": false, "error": res.Message}
		if errors.Is(res.Err, domain.ErrLockBusy) {
			body["retryAfterMs"] = sess.Lock().RemainingCooldown().Milliseconds()
		}
		c.JSON(statusFor(res.Err), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"roomId":   res.RoomID,
		"roomName": res.RoomName,
		"created":  res.Created,
	})
}

// statusFor keeps each failure kind distinguishable for the UI.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoRoomAvailable), errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
