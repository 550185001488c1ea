package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"attendify/internal/attendance"
	"attendify/internal/audit"
	"attendify/internal/capture"
	"attendify/internal/directory"
)

// ---------- Profile ----------

type meResponse struct {
	directory.User
	Templates int `json:"templates"`
}

func (h *Handler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid := h.caller(c).Subject
	u, err := h.Directory.Get(ctx, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.Directory.TemplateCount(ctx, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{User: u, Templates: n})
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var p directory.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Directory.UpdateProfile(c.Request.Context(), h.caller(c).Subject, p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMySettings(c *gin.Context) {
	var s directory.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Directory.UpdateSettings(c.Request.Context(), h.caller(c).Subject, s)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// EnrollMe stores a new face template. Accepts a multipart "photo" file or a
// JSON body {"image": "<data url>"}.
func (h *Handler) EnrollMe(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.Directory.Enroll(c.Request.Context(), h.caller(c).Subject, img)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("photo")
		if err != nil {
			return nil, fmt.Errorf("%w: photo file is required", directory.ErrEmptyTemplate)
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, capture.MaxFrameBytes+1))
		if err != nil {
			return nil, err
		}
		if len(data) > capture.MaxFrameBytes {
			return nil, capture.ErrFrameTooBig
		}
		return data, nil
	}
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrBadDataURL, err)
	}
	return capture.DecodeDataURL(req.Image)
}

// ---------- Admin: users ----------

func (h *Handler) ListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	users, err := h.Directory.List(c.Request.Context(), directory.UserFilter{
		Search:  c.Query("q"),
		ClassID: c.Query("classId"),
		Role:    directory.Role(strings.ToUpper(c.Query("role"))),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req directory.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Directory.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionUserCreate, u.Email)
	c.JSON(http.StatusCreated, u)
}

type roleRequest struct {
	Role directory.Role `json:"role" binding:"required"`
}

func (h *Handler) SetRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	u, err := h.Directory.SetRole(c.Request.Context(), h.caller(c).Subject, id, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionRoleChange, fmt.Sprintf("%s -> %s", id, u.Role))
	c.JSON(http.StatusOK, u)
}

type classRequest struct {
	ClassID string `json:"classId"`
}

func (h *Handler) AssignClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	u, err := h.Directory.AssignClass(c.Request.Context(), id, req.ClassID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionClassAssign, fmt.Sprintf("%s -> %q", id, req.ClassID))
	c.JSON(http.StatusOK, u)
}

type overrideRequest struct {
	Status attendance.Status `json:"status"`
}

// Override commits a record on a user's behalf.
func (h *Handler) Override(c *gin.Context) {
	var req overrideRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.Directory.Get(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.Attendance.ManualOverride(ctx, h.actor(c), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionOverride, fmt.Sprintf("%s %s", id, rec.Status))
	c.JSON(http.StatusCreated, rec)
}
