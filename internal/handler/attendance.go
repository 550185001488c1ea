package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attendify/internal/attendance"
	"attendify/internal/geo"
	"attendify/internal/queue"
)

// ---------- Attendance ----------

func (h *Handler) MyAttendance(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	recs, err := h.Attendance.List(c.Request.Context(), attendance.Filter{
		UserID: h.caller(c).Subject,
		Date:   c.Query("date"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) MySummary(c *gin.Context) {
	sum, err := h.Attendance.Summary(c.Request.Context(), h.caller(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) MyReminder(c *gin.Context) {
	ctx := c.Request.Context()
	uid := h.caller(c).Subject
	u, err := h.Directory.Get(ctx, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg, err := h.Attendance.ReminderFor(ctx, uid, attendance.ReminderSettings{
		Enabled:      u.Settings.NotificationsEnabled,
		WorkdayStart: u.Settings.WorkdayStart,
		WorkdayEnd:   u.Settings.WorkdayEnd,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminder": msg})
}

type positionRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// Position queues a live position ping for geofence exit tracking.
func (h *Handler) Position(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	if !p.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}
	msg, err := queue.NewPosition(queue.Position{
		UserID: h.caller(c).Subject,
		Lat:    p.Lat,
		Lng:    p.Lng,
		At:     h.Attendance.Now(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Positions.Publish(c.Request.Context(), msg); err != nil {
		h.log.Error().Err(err).Msg("position publish failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.Status(http.StatusAccepted)
}
