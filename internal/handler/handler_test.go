package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendify/internal/attendance"
	"attendify/internal/audit"
	"attendify/internal/auth"
	"attendify/internal/directory"
	"attendify/internal/geo"
	"attendify/internal/hardware"
	"attendify/internal/leave"
	"attendify/internal/queue"
	"attendify/internal/secondfactor"
	"attendify/internal/verification"
)

var testNow = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

// ---------- fakes ----------

type fakeDirectory struct {
	users   map[string]directory.User
	subject verification.Subject
	classes map[string]directory.Class
	members []string
}

func (f *fakeDirectory) Register(_ context.Context, in directory.Registration) (directory.User, error) {
	u := directory.User{ID: "new", Name: in.Name, Email: in.Email, Role: directory.RoleStudent}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeDirectory) Get(_ context.Context, id string) (directory.User, error) {
	u, ok := f.users[id]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeDirectory) List(context.Context, directory.UserFilter) ([]directory.User, error) {
	return nil, nil
}

func (f *fakeDirectory) UpdateProfile(_ context.Context, id string, p directory.Profile) (directory.User, error) {
	if err := p.Validate(); err != nil {
		return directory.User{}, err
	}
	u := f.users[id]
	u.Name = p.Name
	f.users[id] = u
	return u, nil
}

func (f *fakeDirectory) UpdateSettings(_ context.Context, id string, s directory.Settings) (directory.User, error) {
	if err := s.Validate(); err != nil {
		return directory.User{}, err
	}
	u := f.users[id]
	u.Settings = s
	f.users[id] = u
	return u, nil
}

func (f *fakeDirectory) SetRole(_ context.Context, adminID, userID string, role directory.Role) (directory.User, error) {
	if adminID == userID {
		return directory.User{}, directory.ErrSelfRoleChange
	}
	u, ok := f.users[userID]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	u.Role = role
	return u, nil
}

func (f *fakeDirectory) AssignClass(_ context.Context, userID, classID string) (directory.User, error) {
	return f.users[userID], nil
}

func (f *fakeDirectory) Enroll(_ context.Context, userID string, image []byte) (directory.Template, error) {
	if len(image) == 0 {
		return directory.Template{}, directory.ErrEmptyTemplate
	}
	return directory.Template{ID: "t1", UserID: userID}, nil
}

func (f *fakeDirectory) TemplateCount(context.Context, string) (int, error) {
	return len(f.subject.Templates), nil
}

func (f *fakeDirectory) Subject(_ context.Context, userID string) (verification.Subject, error) {
	s := f.subject
	s.UserID = userID
	return s, nil
}

func (f *fakeDirectory) ClassOf(context.Context, string) (directory.Class, error) {
	return directory.Class{}, directory.ErrClassNotFound
}

func (f *fakeDirectory) CreateClass(_ context.Context, c directory.Class) (directory.Class, error) {
	if err := c.Validate(); err != nil {
		return directory.Class{}, err
	}
	c.ID = "c-new"
	return c, nil
}

func (f *fakeDirectory) UpdateClass(_ context.Context, c directory.Class) (directory.Class, error) {
	if err := c.Validate(); err != nil {
		return directory.Class{}, err
	}
	if _, ok := f.classes[c.ID]; !ok {
		return directory.Class{}, directory.ErrClassNotFound
	}
	f.classes[c.ID] = c
	return c, nil
}

func (f *fakeDirectory) GetClass(_ context.Context, id string) (directory.Class, error) {
	c, ok := f.classes[id]
	if !ok {
		return directory.Class{}, directory.ErrClassNotFound
	}
	return c, nil
}

func (f *fakeDirectory) ListClasses(context.Context) ([]directory.Class, error) { return nil, nil }

func (f *fakeDirectory) DeleteClass(_ context.Context, id string) error {
	if _, ok := f.classes[id]; !ok {
		return directory.ErrClassNotFound
	}
	return nil
}

func (f *fakeDirectory) Members(context.Context, string) ([]string, error) { return f.members, nil }

type fakeAttendance struct {
	mu      sync.Mutex
	records []attendance.Record
	query   attendance.ReportQuery
}

func (f *fakeAttendance) AddAttendance(_ context.Context, rec attendance.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.UserID == rec.UserID && r.Date == rec.Date && r.Status.Positive() {
			return attendance.ErrAlreadyRecorded
		}
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAttendance) ManualOverride(_ context.Context, admin attendance.Actor, userID string, status attendance.Status) (attendance.Record, error) {
	if admin.ID == userID {
		return attendance.Record{}, attendance.ErrSelfOverride
	}
	if status == "" {
		status = attendance.StatusPresent
	}
	return attendance.NewRecord(userID, testNow, status, geo.Point{}, attendance.OverrideDevice(admin.Name), nil), nil
}

func (f *fakeAttendance) List(_ context.Context, flt attendance.Filter) ([]attendance.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []attendance.Record
	for _, r := range f.records {
		if r.UserID == flt.UserID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAttendance) Summary(context.Context, string) (attendance.Summary, error) {
	return attendance.Summary{Total: 4, Positive: 3, Percent: 75}, nil
}

func (f *fakeAttendance) Report(_ context.Context, q attendance.ReportQuery) ([]attendance.Compliance, error) {
	f.query = q
	return []attendance.Compliance{}, nil
}

func (f *fakeAttendance) ReminderFor(_ context.Context, _ string, rs attendance.ReminderSettings) (string, error) {
	return attendance.Reminder(testNow, rs, false), nil
}

func (f *fakeAttendance) Now() time.Time           { return testNow }
func (f *fakeAttendance) Location() *time.Location { return time.UTC }

type fakeLeave struct {
	decided map[string]bool
}

func (f *fakeLeave) Apply(_ context.Context, userID, userName string, a leave.Application) (leave.Request, error) {
	if err := a.Validate(); err != nil {
		return leave.Request{}, err
	}
	return leave.Request{ID: "l1", UserID: userID, UserName: userName, Type: a.Type, Status: leave.StatusPending}, nil
}

func (f *fakeLeave) Mine(context.Context, string) ([]leave.Request, error)       { return nil, nil }
func (f *fakeLeave) List(context.Context, leave.Status) ([]leave.Request, error) { return nil, nil }

func (f *fakeLeave) Decide(_ context.Context, adminID, id string, status leave.Status) (leave.Request, error) {
	if f.decided[id] {
		return leave.Request{}, leave.ErrAlreadyDecided
	}
	f.decided[id] = true
	return leave.Request{ID: id, Status: status, DecidedBy: &adminID}, nil
}

type fakeHardware struct {
	nodes map[string]hardware.Node
}

func (f *fakeHardware) Create(_ context.Context, spec hardware.NodeSpec) (hardware.Node, error) {
	if err := spec.Validate(); err != nil {
		return hardware.Node{}, err
	}
	n := hardware.Node{ID: "n-new", Name: spec.Name, Type: spec.Type, IPAddress: spec.IPAddress, Status: hardware.StatusOffline}
	f.nodes[n.ID] = n
	return n, nil
}

func (f *fakeHardware) Get(_ context.Context, id string) (hardware.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return hardware.Node{}, hardware.ErrNotFound
	}
	return n, nil
}

func (f *fakeHardware) List(context.Context) ([]hardware.Node, error) { return nil, nil }

func (f *fakeHardware) Delete(_ context.Context, id string) error {
	if _, ok := f.nodes[id]; !ok {
		return hardware.ErrNotFound
	}
	delete(f.nodes, id)
	return nil
}

func (f *fakeHardware) Heartbeat(ctx context.Context, id string) (hardware.Node, error) {
	n, err := f.Get(ctx, id)
	if err != nil {
		return hardware.Node{}, err
	}
	n.Status = hardware.StatusOnline
	return n, nil
}

func (f *fakeHardware) Camera(ctx context.Context, id string, timeout time.Duration) (*hardware.SnapshotCamera, error) {
	n, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Type != hardware.TypeESP32Cam {
		return nil, hardware.ErrNotCamera
	}
	return hardware.NewSnapshotCamera(n.IPAddress, timeout), nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Append(_ context.Context, adminID, adminName, action, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, audit.Entry{AdminID: adminID, AdminName: adminName, Action: action, Details: details})
	return nil
}

func (f *fakeAudit) List(context.Context, int) ([]audit.Entry, error) { return f.entries, nil }

type fakeComparator struct {
	match verification.Match
	err   error
}

func (f *fakeComparator) CompareFaces(context.Context, []byte, [][]byte, int) (verification.Match, error) {
	return f.match, f.err
}

type fakeSecondFactor struct {
	err error
}

func (f *fakeSecondFactor) Issue(context.Context, string) error { return nil }

func (f *fakeSecondFactor) Check(_ context.Context, _, code string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return code == "123456", nil
}

// ---------- harness ----------

type env struct {
	router   *gin.Engine
	dir      *fakeDirectory
	att      *fakeAttendance
	leave    *fakeLeave
	hw       *fakeHardware
	audit    *fakeAudit
	cmp      *fakeComparator
	twoFA    *fakeSecondFactor
	queue    *queue.InMemory
	sessions *verification.Manager
	tokens   *auth.Issuer
	healthy  bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &env{
		dir: &fakeDirectory{
			users: map[string]directory.User{
				"admin": {ID: "admin", Name: "Root", Role: directory.RoleAdmin, Settings: directory.DefaultSettings(75)},
				"stu":   {ID: "stu", Name: "Ana", Role: directory.RoleStudent, Settings: directory.DefaultSettings(75)},
			},
			subject: verification.Subject{Templates: [][]byte{{1}, {2}}},
			classes: map[string]directory.Class{},
		},
		att:      &fakeAttendance{},
		leave:    &fakeLeave{decided: map[string]bool{}},
		hw:       &fakeHardware{nodes: map[string]hardware.Node{}},
		audit:    &fakeAudit{},
		cmp:      &fakeComparator{match: verification.Match{IsMatch: true, Confidence: 91}},
		twoFA:    &fakeSecondFactor{},
		queue:    queue.NewInMemory(8),
		sessions: verification.NewManager(zerolog.Nop()),
		tokens:   auth.NewIssuer("attendify", "test-key", time.Hour, 24*time.Hour),
		healthy:  true,
	}
	t.Cleanup(e.sessions.Shutdown)

	h := New(Deps{
		Directory:    e.dir,
		Attendance:   e.att,
		Leave:        e.leave,
		Hardware:     e.hw,
		Audit:        e.audit,
		Positions:    e.queue,
		Comparator:   e.cmp,
		SecondFactor: e.twoFA,
		Sessions:     e.sessions,
		Tokens:       e.tokens,
		Health:       map[string]Checker{"db": func(context.Context) bool { return e.healthy }},
	}, Options{MaxTemplates: 3, ComparatorTimeout: time.Second}, zerolog.Nop())
	e.router = gin.New()
	h.Register(e.router)
	return e
}

func (e *env) token(t *testing.T, id string) string {
	t.Helper()
	u := e.dir.users[id]
	pair, err := e.tokens.Issue(auth.Identity{Subject: u.ID, Role: string(u.Role), Name: u.Name})
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func dataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 24, 24))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// ---------- tests ----------

func TestVerificationFlow(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "stu")

	w := e.do(t, http.MethodPost, "/v1/verifications", tok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := decode[verification.Snapshot](t, w)
	assert.Equal(t, verification.StateCapturing, snap.State)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/confirm", tok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "location", decode[map[string]any](t, w)["missing"])

	w = e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{"lat": 12.97, "lng": 77.59})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[verification.Snapshot](t, w).HasLocation)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/frame", tok, gin.H{"image": dataURL(t)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[verification.Snapshot](t, w).HasFrame)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/confirm", tok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[attendance.Record](t, w)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.Equal(t, attendance.DeviceBiometric, rec.Device)
	require.NotNil(t, rec.FacialMatchScore)
	assert.Equal(t, 91.0, *rec.FacialMatchScore)
	assert.Len(t, e.att.records, 1)

	w = e.do(t, http.MethodGet, "/v1/verifications/current", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decode[verification.Snapshot](t, w)
	assert.Equal(t, verification.StateSuccess, snap.State)
	assert.Equal(t, 100, snap.Progress)
}

func TestVerification_Rejected(t *testing.T) {
	e := newEnv(t)
	e.cmp.match = verification.Match{IsMatch: true, Confidence: 60}
	tok := e.token(t, "stu")

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/v1/verifications", tok, nil).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{"lat": 1, "lng": 1}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/verifications/current/frame", tok, gin.H{"image": dataURL(t)}).Code)

	w := e.do(t, http.MethodPost, "/v1/verifications/current/confirm", tok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, 60.0, body["confidence"])
	assert.Equal(t, 75.0, body["threshold"])
	assert.Empty(t, e.att.records)

	snap := decode[verification.Snapshot](t, e.do(t, http.MethodGet, "/v1/verifications/current", tok, nil))
	assert.Equal(t, verification.StateIdle, snap.State)
}

func TestVerification_ComparatorDown(t *testing.T) {
	e := newEnv(t)
	e.cmp.err = errors.New("connection refused")
	tok := e.token(t, "stu")

	e.do(t, http.MethodPost, "/v1/verifications", tok, nil)
	e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{"lat": 1, "lng": 1})
	e.do(t, http.MethodPost, "/v1/verifications/current/frame", tok, gin.H{"image": dataURL(t)})

	w := e.do(t, http.MethodPost, "/v1/verifications/current/confirm", tok, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestVerification_LocationDenied(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "stu")
	e.do(t, http.MethodPost, "/v1/verifications", tok, nil)

	w := e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{"error": "permission denied"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/location", tok, gin.H{"lat": 1, "lng": 1})
	assert.Equal(t, http.StatusConflict, w.Code, "session went back to IDLE")
}

func TestVerification_TwoFactorGate(t *testing.T) {
	e := newEnv(t)
	e.dir.subject.Settings.RequireTwoFactor = true
	tok := e.token(t, "stu")

	snap := decode[verification.Snapshot](t, e.do(t, http.MethodPost, "/v1/verifications", tok, nil))
	assert.Equal(t, verification.StateTwoFactor, snap.State)

	w := e.do(t, http.MethodPost, "/v1/verifications/current/frame", tok, gin.H{"image": dataURL(t)})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/code", tok, gin.H{"code": "000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	e.twoFA.err = secondfactor.ErrTooManyAttempts
	w = e.do(t, http.MethodPost, "/v1/verifications/current/code", tok, gin.H{"code": "000000"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	e.twoFA.err = secondfactor.ErrNoChallenge
	w = e.do(t, http.MethodPost, "/v1/verifications/current/code", tok, gin.H{"code": "123456"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "request a new one")
	e.twoFA.err = nil

	e.do(t, http.MethodPost, "/v1/verifications", tok, nil)
	w = e.do(t, http.MethodPost, "/v1/verifications/current/code", tok, gin.H{"code": "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, verification.StateCapturing, decode[verification.Snapshot](t, w).State)
}

func TestVerification_NotEnrolled(t *testing.T) {
	e := newEnv(t)
	e.dir.subject.Templates = nil
	w := e.do(t, http.MethodPost, "/v1/verifications", e.token(t, "stu"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestVerification_SkipAndCancel(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "stu")

	w := e.do(t, http.MethodPost, "/v1/verifications/current/skip", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.do(t, http.MethodPost, "/v1/verifications", tok, nil)
	w = e.do(t, http.MethodPost, "/v1/verifications/current/skip", tok, gin.H{"status": "ABSENT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/verifications/current/skip", tok, gin.H{"status": "OD"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[attendance.Record](t, w)
	assert.Equal(t, attendance.DeviceBypass, rec.Device)
	assert.Nil(t, rec.FacialMatchScore)

	e.do(t, http.MethodPost, "/v1/verifications", tok, nil)
	w = e.do(t, http.MethodDelete, "/v1/verifications/current", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, e.sessions.Len())
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/verifications/current", tok, nil).Code)
}

func TestVerification_HardwareNode(t *testing.T) {
	e := newEnv(t)
	e.hw.nodes["door"] = hardware.Node{ID: "door", Type: hardware.TypeDoorLock, IPAddress: "10.0.0.2"}

	w := e.do(t, http.MethodPost, "/v1/verifications", e.token(t, "stu"), gin.H{"nodeId": "door"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/verifications", e.token(t, "stu"), gin.H{"nodeId": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoleGuards(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/me", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/admin/users", e.token(t, "stu"), nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/admin/users", e.token(t, "admin"), nil).Code)

	e.hw.nodes["cam"] = hardware.Node{ID: "cam", Name: "Gate", Type: hardware.TypeESP32Cam, IPAddress: "10.0.0.9"}
	w := e.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"node_id": "cam"})
	require.Equal(t, http.StatusCreated, w.Code)
	deviceTok := decode[map[string]any](t, w)["access_token"].(string)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/me", deviceTok, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/devices/heartbeat", deviceTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"node_id": "nope"}).Code)
}

func TestAdmin_SetRoleAndAudit(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "admin")

	w := e.do(t, http.MethodPut, "/v1/admin/users/admin/role", tok, gin.H{"role": "STAFF"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPut, "/v1/admin/users/stu/role", tok, gin.H{"role": "STAFF"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, directory.RoleStaff, decode[directory.User](t, w).Role)

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, audit.ActionRoleChange, e.audit.entries[0].Action)
	assert.Equal(t, "Root", e.audit.entries[0].AdminName)
}

func TestAdmin_Override(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "admin")

	w := e.do(t, http.MethodPost, "/v1/admin/users/admin/override", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/v1/admin/users/ghost/override", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/v1/admin/users/stu/override", tok, gin.H{"status": "OD"})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode[attendance.Record](t, w)
	assert.Equal(t, "Admin Override (Root)", rec.Device)
	assert.Equal(t, attendance.StatusOD, rec.Status)
}

func TestAdmin_ClassReport(t *testing.T) {
	e := newEnv(t)
	radius := 120.0
	e.dir.classes["c1"] = directory.Class{ID: "c1", Name: "CS-A", StartTime: "09:00", EndTime: "16:00"}
	e.dir.members = []string{"stu"}
	tok := e.token(t, "admin")

	w := e.do(t, http.MethodGet, "/v1/admin/classes/c1/report?date=2026-03-02", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"stu"}, e.att.query.UserIDs)
	assert.Equal(t, "2026-03-02", e.att.query.Date)
	assert.NotNil(t, e.att.query.Window)
	assert.Nil(t, e.att.query.Fence)

	w = e.do(t, http.MethodPost, "/v1/admin/classes", tok, gin.H{"name": "Lab", "geofenceRadius": radius})
	assert.Equal(t, http.StatusBadRequest, w.Code, "radius without location")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/v1/admin/classes/zzz", tok, nil).Code)
}

func TestAdmin_UpdateClass(t *testing.T) {
	e := newEnv(t)
	e.dir.classes["c1"] = directory.Class{ID: "c1", Name: "CS-A"}
	tok := e.token(t, "admin")

	w := e.do(t, http.MethodPut, "/v1/admin/classes/c1", e.token(t, "stu"), gin.H{"name": "CS-B"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPut, "/v1/admin/classes/zzz", tok, gin.H{"name": "CS-B"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/v1/admin/classes/c1", tok, gin.H{"name": "CS-B", "startTime": "09:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "start without end")

	w = e.do(t, http.MethodPut, "/v1/admin/classes/c1", tok, gin.H{
		"id": "ignored", "name": "CS-B", "location": gin.H{"lat": 12.97, "lng": 77.59}, "geofenceRadius": 150,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cls := decode[directory.Class](t, w)
	assert.Equal(t, "c1", cls.ID)
	require.NotNil(t, e.dir.classes["c1"].Fence())
	assert.Equal(t, 150.0, e.dir.classes["c1"].Fence().Radius)

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, audit.ActionClassUpdate, e.audit.entries[0].Action)
	assert.Equal(t, "CS-B", e.audit.entries[0].Details)
}

func TestLeave(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/leave", e.token(t, "stu"), gin.H{
		"type": "LEAVE", "startDate": "2026-03-04", "endDate": "2026-03-03", "reason": "trip",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/leave", e.token(t, "stu"), gin.H{
		"type": "OD", "startDate": "2026-03-04", "endDate": "2026-03-04", "reason": "symposium",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ana", decode[leave.Request](t, w).UserName)

	tok := e.token(t, "admin")
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPatch, "/v1/admin/leave/l1", tok, gin.H{"status": "APPROVED"}).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPatch, "/v1/admin/leave/l1", tok, gin.H{"status": "REJECTED"}).Code)
}

func TestPosition(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "stu")

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/v1/positions", tok, gin.H{"lat": 120, "lng": 0}).Code)

	w := e.do(t, http.MethodPost, "/v1/positions", tok, gin.H{"lat": 12.9, "lng": 77.5})
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := e.queue.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	p, err := queue.DecodePosition(msg)
	require.NoError(t, err)
	assert.Equal(t, "stu", p.UserID)
	assert.True(t, testNow.Equal(p.At))
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "stu")

	w := e.do(t, http.MethodGet, "/v1/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, 2.0, body["templates"])
	assert.Equal(t, "Ana", body["name"])

	settings := directory.DefaultSettings(75)
	settings.FaceSensitivity = 150
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/v1/me/settings", tok, settings).Code)

	w = e.do(t, http.MethodPost, "/v1/me/templates", tok, gin.H{"image": dataURL(t)})
	assert.Equal(t, http.StatusCreated, w.Code)
	w = e.do(t, http.MethodPost, "/v1/me/templates", tok, gin.H{"image": "data:image/png,notbase64"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/v1/reminders", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.MorningReminder, decode[map[string]string](t, w)["reminder"])
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", nil).Code)

	e.healthy = false
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["db"])
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", verification.ErrComparatorTimeout, verification.ErrComparator), http.StatusGatewayTimeout},
		{&verification.RejectedError{Confidence: 10, Threshold: 75}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: boom", verification.ErrComparator), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", verification.ErrTwoFactorUnavailable, secondfactor.ErrTooManyAttempts), http.StatusTooManyRequests},
		{fmt.Errorf("%w: %w", verification.ErrTwoFactorUnavailable, secondfactor.ErrNoChallenge), http.StatusGone},
		{fmt.Errorf("%w: redis down", verification.ErrTwoFactorUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", verification.ErrPersistence, attendance.ErrAlreadyRecorded), http.StatusConflict},
		{fmt.Errorf("%w: db down", verification.ErrPersistence), http.StatusServiceUnavailable},
		{&verification.PreconditionError{Missing: verification.MissingFrame}, http.StatusUnprocessableEntity},
		{&verification.TransitionError{From: verification.StateMatching, Action: "capture"}, http.StatusConflict},
		{verification.ErrNoSession, http.StatusNotFound},
		{directory.ErrAdminImmutable, http.StatusForbidden},
		{leave.ErrInvalid, http.StatusBadRequest},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}
