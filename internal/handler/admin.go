package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"attendify/internal/attendance"
	"attendify/internal/audit"
	"attendify/internal/auth"
	"attendify/internal/directory"
	"attendify/internal/hardware"
	"attendify/internal/leave"
)

// ---------- Classes ----------

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.Directory.ListClasses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if classes == nil {
		classes = []directory.Class{}
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) CreateClass(c *gin.Context) {
	var in directory.Class
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	cls, err := h.Directory.CreateClass(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionClassCreate, cls.Name)
	c.JSON(http.StatusCreated, cls)
}

// UpdateClass replaces the class definition. Sessions already running keep
// the fence and schedule they started with.
func (h *Handler) UpdateClass(c *gin.Context) {
	var in directory.Class
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	in.ID = c.Param("id")
	cls, err := h.Directory.UpdateClass(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionClassUpdate, cls.Name)
	c.JSON(http.StatusOK, cls)
}

func (h *Handler) DeleteClass(c *gin.Context) {
	id := c.Param("id")
	if err := h.Directory.DeleteClass(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionClassDelete, id)
	c.Status(http.StatusNoContent)
}

// ClassReport evaluates every member's records for ?date= (default today).
func (h *Handler) ClassReport(c *gin.Context) {
	ctx := c.Request.Context()
	cls, err := h.Directory.GetClass(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	members, err := h.Directory.Members(ctx, cls.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.Attendance.Report(ctx, attendance.ReportQuery{
		UserIDs: members,
		Date:    c.Query("date"),
		Fence:   cls.Fence(),
		Window:  cls.Window(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls, "members": len(members), "records": rows})
}

// ---------- Leave ----------

func (h *Handler) MyLeave(c *gin.Context) {
	reqs, err := h.Leave.Mine(c.Request.Context(), h.caller(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	if reqs == nil {
		reqs = []leave.Request{}
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) ApplyLeave(c *gin.Context) {
	var app leave.Application
	if err := c.ShouldBindJSON(&app); err != nil {
		badRequest(c, err)
		return
	}
	claims := h.caller(c)
	req, err := h.Leave.Apply(c.Request.Context(), claims.Subject, claims.Name, app)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListLeave(c *gin.Context) {
	reqs, err := h.Leave.List(c.Request.Context(), leave.Status(strings.ToUpper(c.Query("status"))))
	if err != nil {
		h.fail(c, err)
		return
	}
	if reqs == nil {
		reqs = []leave.Request{}
	}
	c.JSON(http.StatusOK, reqs)
}

type decisionRequest struct {
	Status leave.Status `json:"status" binding:"required"`
}

func (h *Handler) DecideLeave(c *gin.Context) {
	var in decisionRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.Leave.Decide(c.Request.Context(), h.caller(c).Subject, c.Param("id"), in.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionLeaveDecision, fmt.Sprintf("%s %s for %s", req.ID, req.Status, req.UserName))
	c.JSON(http.StatusOK, req)
}

// ---------- Hardware ----------

func (h *Handler) ListNodes(c *gin.Context) {
	nodes, err := h.Hardware.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if nodes == nil {
		nodes = []hardware.Node{}
	}
	c.JSON(http.StatusOK, nodes)
}

func (h *Handler) CreateNode(c *gin.Context) {
	var spec hardware.NodeSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Hardware.Create(c.Request.Context(), spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionNodeCreate, fmt.Sprintf("%s %s %s", n.Name, n.Type, n.IPAddress))
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) DeleteNode(c *gin.Context) {
	id := c.Param("id")
	if err := h.Hardware.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionNodeDelete, id)
	c.Status(http.StatusNoContent)
}

// ---------- Devices ----------

type deviceRegisterRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

// RegisterDevice hands a registered node its token and marks it online.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req deviceRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Hardware.Heartbeat(c.Request.Context(), req.NodeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	tokens, err := h.Tokens.Issue(auth.Identity{Subject: n.ID, Role: auth.RoleDevice, Name: n.Name})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"node":          n,
	})
}

func (h *Handler) DeviceHeartbeat(c *gin.Context) {
	n, err := h.Hardware.Heartbeat(c.Request.Context(), h.caller(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// ---------- Audit ----------

func (h *Handler) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.Audit.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}
