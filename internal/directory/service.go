package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendify/internal/capture"
	"attendify/internal/verification"
)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	UpdateProfile(ctx context.Context, id string, p Profile) error
	UpdateSettings(ctx context.Context, id string, s Settings) error
	SetRole(ctx context.Context, id string, role Role) error
	SetClass(ctx context.Context, id string, classID *string) error
	UserIDsInClass(ctx context.Context, classID string) ([]string, error)
	AddTemplate(ctx context.Context, t Template) error
	RecentTemplates(ctx context.Context, userID string, limit int) ([]Template, error)
	CountTemplates(ctx context.Context, userID string) (int, error)
	CreateClass(ctx context.Context, c Class) error
	UpdateClass(ctx context.Context, c Class) error
	GetClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
	DeleteClass(ctx context.Context, id string) error
}

// Archiver keeps an off-site copy of enrolled templates and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, userID string, image []byte) (string, error)
}

type Service struct {
	repo               Store
	archive            Archiver
	maxTemplates       int
	defaultSensitivity int
	now                func() time.Time
	log                zerolog.Logger
}

// NewService builds the directory service. archive may be nil.
func NewService(repo Store, archive Archiver, maxTemplates, defaultSensitivity int, log zerolog.Logger) *Service {
	if maxTemplates <= 0 {
		maxTemplates = verification.DefaultMaxTemplates
	}
	return &Service{
		repo:               repo,
		archive:            archive,
		maxTemplates:       maxTemplates,
		defaultSensitivity: defaultSensitivity,
		now:                time.Now,
		log:                log,
	}
}

var validate = validator.New()

// Registration is the input for a new account.
type Registration struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// Register creates a user. The first account becomes the root administrator;
// everyone after is a student.
func (s *Service) Register(ctx context.Context, in Registration) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return User{}, fmt.Errorf("%w: %s fails %q", ErrInvalidUser, strings.ToLower(ve[0].Field()), ve[0].Tag())
		}
		return User{}, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	n, err := s.repo.CountUsers(ctx)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      RoleStudent,
		Settings:  DefaultSettings(s.defaultSensitivity),
		CreatedAt: s.now().UTC(),
	}
	if n == 0 {
		u.Role = RoleAdmin
		u.RollNumber = "ROOT-001"
	} else {
		u.RollNumber = fmt.Sprintf("ID-%05d", 10000+rand.IntN(90000))
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, strings.TrimSpace(email))
}

// Email satisfies secondfactor.Recipients.
func (s *Service) Email(ctx context.Context, userID string) (string, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

func (s *Service) List(ctx context.Context, f UserFilter) ([]User, error) {
	return s.repo.ListUsers(ctx, f)
}

func (s *Service) UpdateProfile(ctx context.Context, id string, p Profile) (User, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateProfile(ctx, id, p); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, id)
}

func (s *Service) UpdateSettings(ctx context.Context, id string, st Settings) (User, error) {
	if err := st.Validate(); err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateSettings(ctx, id, st); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, id)
}

// SetRole changes a user's role on behalf of adminID. ADMIN is never
// assignable, existing administrators keep their role and nobody changes
// their own.
func (s *Service) SetRole(ctx context.Context, adminID, userID string, role Role) (User, error) {
	switch {
	case !role.Valid():
		return User{}, ErrInvalidRole
	case role == RoleAdmin:
		return User{}, ErrRoleNotAssignable
	case adminID == userID:
		return User{}, ErrSelfRoleChange
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if u.Role == RoleAdmin {
		return User{}, ErrAdminImmutable
	}
	if u.Role == role {
		return u, nil
	}
	if err := s.repo.SetRole(ctx, userID, role); err != nil {
		return User{}, err
	}
	u.Role = role
	return u, nil
}

// AssignClass puts a user in a class. An empty classID unassigns.
func (s *Service) AssignClass(ctx context.Context, userID, classID string) (User, error) {
	var ref *string
	if classID != "" {
		if _, err := s.repo.GetClass(ctx, classID); err != nil {
			return User{}, err
		}
		ref = &classID
	}
	if err := s.repo.SetClass(ctx, userID, ref); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, userID)
}

// Enroll normalises image and stores it as a new face template. Archiving is
// best effort; a failed upload does not fail enrollment.
func (s *Service) Enroll(ctx context.Context, userID string, image []byte) (Template, error) {
	if len(image) == 0 {
		return Template{}, ErrEmptyTemplate
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return Template{}, err
	}
	norm, err := capture.Normalize(image)
	if err != nil {
		return Template{}, err
	}
	t := Template{
		ID:        uuid.NewString(),
		UserID:    userID,
		Image:     norm,
		CreatedAt: s.now().UTC(),
	}
	if s.archive != nil {
		url, err := s.archive.Archive(ctx, userID, norm)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("template archive failed")
		} else {
			t.ArchiveURL = url
		}
	}
	if err := s.repo.AddTemplate(ctx, t); err != nil {
		return Template{}, err
	}
	s.log.Info().Str("user_id", userID).Str("template", t.ID).Msg("face template enrolled")
	return t, nil
}

func (s *Service) TemplateCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountTemplates(ctx, userID)
}

// Subject snapshots everything a verification session needs about userID.
func (s *Service) Subject(ctx context.Context, userID string) (verification.Subject, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return verification.Subject{}, err
	}
	tpls, err := s.repo.RecentTemplates(ctx, userID, s.maxTemplates)
	if err != nil {
		return verification.Subject{}, err
	}
	sub := verification.Subject{
		UserID:    u.ID,
		Templates: make([][]byte, 0, len(tpls)),
		Settings:  u.Settings.Verification(),
	}
	for _, t := range tpls {
		sub.Templates = append(sub.Templates, t.Image)
	}
	if u.ClassID != nil {
		c, err := s.repo.GetClass(ctx, *u.ClassID)
		switch {
		case err == nil:
			sub.Fence = c.Fence()
			sub.Window = c.Window()
		case !errors.Is(err, ErrClassNotFound):
			return verification.Subject{}, err
		}
	}
	return sub, nil
}

// ClassOf returns the class userID is assigned to, or ErrClassNotFound.
func (s *Service) ClassOf(ctx context.Context, userID string) (Class, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Class{}, err
	}
	if u.ClassID == nil {
		return Class{}, ErrClassNotFound
	}
	return s.repo.GetClass(ctx, *u.ClassID)
}

func (s *Service) CreateClass(ctx context.Context, c Class) (Class, error) {
	c.ID = uuid.NewString()
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return Class{}, err
	}
	if err := s.repo.CreateClass(ctx, c); err != nil {
		return Class{}, err
	}
	return c, nil
}

func (s *Service) UpdateClass(ctx context.Context, c Class) (Class, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return Class{}, err
	}
	if err := s.repo.UpdateClass(ctx, c); err != nil {
		return Class{}, err
	}
	return c, nil
}

func (s *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return s.repo.GetClass(ctx, id)
}

func (s *Service) ListClasses(ctx context.Context) ([]Class, error) {
	return s.repo.ListClasses(ctx)
}

// DeleteClass removes the class; its members become unassigned.
func (s *Service) DeleteClass(ctx context.Context, id string) error {
	return s.repo.DeleteClass(ctx, id)
}

func (s *Service) Members(ctx context.Context, classID string) ([]string, error) {
	return s.repo.UserIDsInClass(ctx, classID)
}
