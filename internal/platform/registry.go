package platform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maheshrc27/postflow/internal/models"
)

// Registry maps a platform identifier to its client. It is filled once at
// startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client)}
	for _, c := range clients {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Client) error {
	if c == nil {
		return fmt.Errorf("platform client is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Platform()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("client for platform %s already registered", name)
	}
	r.clients[name] = c
	return nil
}

func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, name)
	}
	return c, nil
}

// ForAccount resolves the client that publishes to acc.
func (r *Registry) ForAccount(acc *models.Account) (Client, error) {
	return r.Get(acc.Platform)
}

// NativeFor returns the native scheduler for acc when both the client and
// the account type support it.
func (r *Registry) NativeFor(acc *models.Account) (NativeScheduler, bool) {
	c, err := r.ForAccount(acc)
	if err != nil || !acc.SupportsNativeScheduling() {
		return nil, false
	}
	ns, ok := c.(NativeScheduler)
	return ns, ok
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
