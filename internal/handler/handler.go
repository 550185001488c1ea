// Package handler exposes the HTTP API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"attendify/internal/attendance"
	"attendify/internal/audit"
	"attendify/internal/auth"
	"attendify/internal/directory"
	"attendify/internal/hardware"
	"attendify/internal/leave"
	"attendify/internal/queue"
	"attendify/internal/verification"
)

// Directory is the user, template and class surface the handlers use.
type Directory interface {
	Register(ctx context.Context, in directory.Registration) (directory.User, error)
	Get(ctx context.Context, id string) (directory.User, error)
	List(ctx context.Context, f directory.UserFilter) ([]directory.User, error)
	UpdateProfile(ctx context.Context, id string, p directory.Profile) (directory.User, error)
	UpdateSettings(ctx context.Context, id string, s directory.Settings) (directory.User, error)
	SetRole(ctx context.Context, adminID, userID string, role directory.Role) (directory.User, error)
	AssignClass(ctx context.Context, userID, classID string) (directory.User, error)
	Enroll(ctx context.Context, userID string, image []byte) (directory.Template, error)
	TemplateCount(ctx context.Context, userID string) (int, error)
	Subject(ctx context.Context, userID string) (verification.Subject, error)
	ClassOf(ctx context.Context, userID string) (directory.Class, error)
	CreateClass(ctx context.Context, c directory.Class) (directory.Class, error)
	UpdateClass(ctx context.Context, c directory.Class) (directory.Class, error)
	GetClass(ctx context.Context, id string) (directory.Class, error)
	ListClasses(ctx context.Context) ([]directory.Class, error)
	DeleteClass(ctx context.Context, id string) error
	Members(ctx context.Context, classID string) ([]string, error)
}

// Attendance is the record surface the handlers use.
type Attendance interface {
	verification.RecordStore
	ManualOverride(ctx context.Context, admin attendance.Actor, userID string, status attendance.Status) (attendance.Record, error)
	List(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
	Summary(ctx context.Context, userID string) (attendance.Summary, error)
	Report(ctx context.Context, q attendance.ReportQuery) ([]attendance.Compliance, error)
	ReminderFor(ctx context.Context, userID string, rs attendance.ReminderSettings) (string, error)
	Now() time.Time
	Location() *time.Location
}

type Leave interface {
	Apply(ctx context.Context, userID, userName string, a leave.Application) (leave.Request, error)
	Mine(ctx context.Context, userID string) ([]leave.Request, error)
	List(ctx context.Context, status leave.Status) ([]leave.Request, error)
	Decide(ctx context.Context, adminID, id string, status leave.Status) (leave.Request, error)
}

type Hardware interface {
	Create(ctx context.Context, spec hardware.NodeSpec) (hardware.Node, error)
	Get(ctx context.Context, id string) (hardware.Node, error)
	List(ctx context.Context) ([]hardware.Node, error)
	Delete(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, id string) (hardware.Node, error)
	Camera(ctx context.Context, id string, timeout time.Duration) (*hardware.SnapshotCamera, error)
}

type Audit interface {
	Append(ctx context.Context, adminID, adminName, action, details string) error
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) bool

// Deps wires the handlers to the services.
type Deps struct {
	Directory    Directory
	Attendance   Attendance
	Leave        Leave
	Hardware     Hardware
	Audit        Audit
	Positions    queue.Queue
	Comparator   verification.Comparator
	SecondFactor verification.SecondFactor
	Sessions     *verification.Manager
	Tokens       *auth.Issuer
	Health       map[string]Checker
}

// Options are the verification policies handed to each new session.
type Options struct {
	MaxTemplates      int
	ComparatorTimeout time.Duration
	EnforceGeofence   bool
	CameraTimeout     time.Duration
}

type Handler struct {
	Deps
	opts Options
	log  zerolog.Logger
}

func New(deps Deps, opts Options, log zerolog.Logger) *Handler {
	if opts.CameraTimeout <= 0 {
		opts.CameraTimeout = 5 * time.Second
	}
	return &Handler{Deps: deps, opts: opts, log: log}
}

// Register mounts every route on r. Global middleware is the caller's.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/devices/register", h.RegisterDevice)

	authed := r.Group("/v1", auth.Authenticate(h.Tokens))

	device := authed.Group("/devices", auth.RequireRole(auth.RoleDevice))
	device.POST("/heartbeat", h.DeviceHeartbeat)

	user := authed.Group("", auth.RequireRole(string(directory.RoleStudent), string(directory.RoleStaff), string(directory.RoleAdmin)))
	user.POST("/verifications", h.BeginVerification)
	user.GET("/verifications/current", h.CurrentVerification)
	user.POST("/verifications/current/code", h.SubmitCode)
	user.POST("/verifications/current/location", h.SubmitLocation)
	user.POST("/verifications/current/frame", h.SubmitFrame)
	user.POST("/verifications/current/confirm", h.ConfirmVerification)
	user.POST("/verifications/current/skip", h.SkipVerification)
	user.DELETE("/verifications/current", h.CancelVerification)

	user.GET("/attendance", h.MyAttendance)
	user.GET("/attendance/summary", h.MySummary)
	user.GET("/reminders", h.MyReminder)
	user.POST("/positions", h.Position)

	user.GET("/me", h.Me)
	user.PUT("/me", h.UpdateMe)
	user.PUT("/me/settings", h.UpdateMySettings)
	user.POST("/me/templates", h.EnrollMe)

	user.GET("/leave", h.MyLeave)
	user.POST("/leave", h.ApplyLeave)

	admin := authed.Group("/admin", auth.RequireRole(string(directory.RoleAdmin)))
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.PUT("/users/:id/role", h.SetRole)
	admin.PUT("/users/:id/class", h.AssignClass)
	admin.POST("/users/:id/override", h.Override)
	admin.GET("/classes", h.ListClasses)
	admin.POST("/classes", h.CreateClass)
	admin.PUT("/classes/:id", h.UpdateClass)
	admin.DELETE("/classes/:id", h.DeleteClass)
	admin.GET("/classes/:id/report", h.ClassReport)
	admin.GET("/leave", h.ListLeave)
	admin.PATCH("/leave/:id", h.DecideLeave)
	admin.GET("/hardware", h.ListNodes)
	admin.POST("/hardware", h.CreateNode)
	admin.DELETE("/hardware/:id", h.DeleteNode)
	admin.GET("/audit", h.ListAudit)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- helpers ----------

func (h *Handler) caller(c *gin.Context) auth.Claims {
	claims, _ := auth.FromContext(c)
	return claims
}

func (h *Handler) actor(c *gin.Context) attendance.Actor {
	claims := h.caller(c)
	return attendance.Actor{ID: claims.Subject, Name: claims.Name}
}

// audit records an admin action. A failed append is logged by the audit log
// and does not fail the request.
func (h *Handler) audit(c *gin.Context, action, details string) {
	if h.Audit == nil {
		return
	}
	a := h.actor(c)
	_ = h.Audit.Append(c.Request.Context(), a.ID, a.Name, action, details)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
