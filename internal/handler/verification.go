package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendify/internal/attendance"
	"attendify/internal/capture"
	"attendify/internal/geo"
	"attendify/internal/verification"
)

// ---------- Verification sessions ----------

type beginRequest struct {
	NodeID string `json:"nodeId"`
}

// BeginVerification starts a session for the caller. With nodeId the frames
// come from that ESP32-CAM; otherwise the client uploads them.
func (h *Handler) BeginVerification(c *gin.Context) {
	var req beginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	uid := h.caller(c).Subject

	subject, err := h.Directory.Subject(ctx, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	var camera verification.Camera = capture.NewFrames()
	if req.NodeID != "" {
		cam, err := h.Hardware.Camera(ctx, req.NodeID, h.opts.CameraTimeout)
		if err != nil {
			h.fail(c, err)
			return
		}
		camera = cam
	}
	deps := verification.Deps{
		Locator:      capture.NewFixes(),
		Camera:       camera,
		Comparator:   h.Comparator,
		Records:      h.Attendance,
		SecondFactor: h.SecondFactor,
	}
	opts := verification.Options{
		MaxTemplates:      h.opts.MaxTemplates,
		ComparatorTimeout: h.opts.ComparatorTimeout,
		EnforceGeofence:   h.opts.EnforceGeofence,
		Location:          h.Attendance.Location(),
		Logger:            h.log,
	}

	sess, err := h.Sessions.Start(ctx, uid, func() (*verification.Session, error) {
		return verification.New(subject, deps, opts)
	})
	if err != nil {
		if sess != nil && errors.Is(err, verification.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "session": sess.Snapshot()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (h *Handler) session(c *gin.Context) (*verification.Session, bool) {
	sess, err := h.Sessions.Get(h.caller(c).Subject)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) CurrentVerification(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) SubmitCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := sess.SubmitCode(c.Request.Context(), req.Code); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// locationRequest carries either a fix or the reason the client has none.
type locationRequest struct {
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
	Error string   `json:"error"`
}

func (h *Handler) SubmitLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if fixes, isPush := sess.Deps().Locator.(*capture.Fixes); isPush {
		switch {
		case req.Error != "":
			fixes.Fail(req.Error)
		case req.Lat != nil && req.Lng != nil:
			fixes.Set(geo.Point{Lat: *req.Lat, Lng: *req.Lng})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng required"})
			return
		}
	}
	if _, err := sess.Locate(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

type frameRequest struct {
	Image string `json:"image"`
}

// SubmitFrame takes the current camera frame. Client-fed sessions must send
// the image, as a data URL or bare base64.
func (h *Handler) SubmitFrame(c *gin.Context) {
	var req frameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if frames, isPush := sess.Deps().Camera.(*capture.Frames); isPush {
		raw, err := capture.DecodeDataURL(req.Image)
		if err != nil {
			h.fail(c, err)
			return
		}
		img, err := capture.Normalize(raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		if err := frames.Put(img); err != nil {
			h.fail(c, err)
			return
		}
	}
	if err := sess.Capture(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *Handler) ConfirmVerification(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := sess.Confirm(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type skipRequest struct {
	Status attendance.Status `json:"status"`
}

func (h *Handler) SkipVerification(c *gin.Context) {
	var req skipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Status == "" {
		req.Status = attendance.StatusPresent
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := sess.Skip(c.Request.Context(), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// CancelVerification abandons the caller's session and releases its camera.
func (h *Handler) CancelVerification(c *gin.Context) {
	if _, ok := h.session(c); !ok {
		return
	}
	h.Sessions.Remove(h.caller(c).Subject)
	c.Status(http.StatusNoContent)
}
