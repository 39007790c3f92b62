// Package registry resolves registered crypto plugin service
// instances. It stands in for the platform service directory: each
// instance of a factory interface listens on its own unix socket under
// <Dir>/<descriptor>/<instance>.sock.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/drm-plugin/api"
	"github.com/srediag/drm-plugin/internal/ipc"
	"github.com/srediag/drm-plugin/internal/logging"
)

const socketSuffix = ".sock"

var internalLogger = logging.New("registry", nil)

// Config tunes a Manager.
type Config struct {
	// Dir is the base directory holding per-descriptor socket dirs.
	Dir string

	// Session configures every dialed session; nil means defaults.
	Session *ipc.Config
}

// Manager is a directory-backed service manager. Sessions are cached
// per socket, so repeated factory lookups reuse connections.
type Manager struct {
	conf     Config
	sessions cmap.ConcurrentMap[string, *ipc.Session]
}

// NewManager builds a Manager over a service directory.
func NewManager(conf Config) (*Manager, error) {
	if conf.Dir == "" {
		return nil, fmt.Errorf("registry: empty service directory")
	}
	return &Manager{
		conf:     conf,
		sessions: cmap.New[*ipc.Session](),
	}, nil
}

// ListByInterface returns the instance names registered for an
// interface descriptor. A descriptor nobody registered yields an
// empty list, not an error.
func (m *Manager) ListByInterface(ctx context.Context, descriptor string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.conf.Dir, descriptor))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: list %s: %w", descriptor, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), socketSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), socketSuffix))
	}
	return names, nil
}

// GetFactory dials the instance's socket (or reuses a live cached
// session) and returns a factory proxy bound to it.
func (m *Manager) GetFactory(ctx context.Context, descriptor, instance string) (api.CryptoFactory, error) {
	sockPath := filepath.Join(m.conf.Dir, descriptor, instance+socketSuffix)
	if s, ok := m.sessions.Get(sockPath); ok {
		if s.Healthy() {
			return ipc.NewFactoryClient(s, instance), nil
		}
		// a dead session still holds its worker pool until closed
		if err := s.Close(); err != nil {
			internalLogger.Debugf("close stale session %s: %v", sockPath, err)
		}
		m.sessions.Remove(sockPath)
	}
	s, err := ipc.Dial(ctx, "unix", sockPath, m.conf.Session)
	if err != nil {
		return nil, fmt.Errorf("registry: get %s/%s: %w", descriptor, instance, err)
	}
	m.sessions.Set(sockPath, s)
	internalLogger.Infof("connected to %s instance %s", descriptor, instance)
	return ipc.NewFactoryClient(s, instance), nil
}

// Sessions snapshots the live cached sessions, for health wiring.
func (m *Manager) Sessions() []*ipc.Session {
	out := make([]*ipc.Session, 0, m.sessions.Count())
	m.sessions.IterCb(func(key string, s *ipc.Session) {
		out = append(out, s)
	})
	return out
}

// Close shuts every cached session down.
func (m *Manager) Close() error {
	var first error
	m.sessions.IterCb(func(key string, s *ipc.Session) {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	})
	m.sessions.Clear()
	return first
}

var _ api.ServiceManager = (*Manager)(nil)
