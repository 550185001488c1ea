package hardware

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Store interface {
	Insert(ctx context.Context, n Node) error
	Get(ctx context.Context, id string) (Node, error)
	List(ctx context.Context) ([]Node, error)
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// Registry manages nodes and reports their liveness.
type Registry struct {
	repo         Store
	offlineAfter time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

func NewRegistry(repo Store, offlineAfter time.Duration, log zerolog.Logger) *Registry {
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	return &Registry{repo: repo, offlineAfter: offlineAfter, now: time.Now, log: log}
}

func (r *Registry) Create(ctx context.Context, spec NodeSpec) (Node, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := spec.Validate(); err != nil {
		return Node{}, err
	}
	n := Node{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		Type:      spec.Type,
		IPAddress: spec.IPAddress,
		Status:    StatusOffline,
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.Insert(ctx, n); err != nil {
		return Node{}, err
	}
	r.log.Info().Str("node_id", n.ID).Str("type", string(n.Type)).Msg("hardware node registered")
	return n, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Node, error) {
	n, err := r.repo.Get(ctx, id)
	if err != nil {
		return Node{}, err
	}
	n.Status = statusAt(n.LastSeen, r.now(), r.offlineAfter)
	return n, nil
}

func (r *Registry) List(ctx context.Context) ([]Node, error) {
	nodes, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	for i := range nodes {
		nodes[i].Status = statusAt(nodes[i].LastSeen, now, r.offlineAfter)
	}
	return nodes, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("node_id", id).Msg("hardware node removed")
	return nil
}

// Heartbeat records that the node is alive and returns it as ONLINE.
func (r *Registry) Heartbeat(ctx context.Context, id string) (Node, error) {
	at := r.now().UTC()
	if err := r.repo.Touch(ctx, id, at); err != nil {
		return Node{}, err
	}
	n, err := r.repo.Get(ctx, id)
	if err != nil {
		return Node{}, err
	}
	n.LastSeen = &at
	n.Status = StatusOnline
	return n, nil
}

// Camera returns a verification camera backed by the node. Only ESP32_CAM
// nodes qualify.
func (r *Registry) Camera(ctx context.Context, id string, timeout time.Duration) (*SnapshotCamera, error) {
	n, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Type != TypeESP32Cam {
		return nil, ErrNotCamera
	}
	return NewSnapshotCamera(n.IPAddress, timeout), nil
}
