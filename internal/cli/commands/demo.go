package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/pkg/di"
	"github.com/goliatone/go-cache-connector/repositorycache"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type demoUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// demoStore is an in-memory store that sleeps on every call to stand in for
// a database round trip.
type demoStore struct {
	mu      sync.Mutex
	users   map[string]demoUser
	latency time.Duration
	out     io.Writer
	calls   int
}

func newDemoStore(out io.Writer, latency time.Duration, users ...demoUser) *demoStore {
	s := &demoStore{users: make(map[string]demoUser), latency: latency, out: out}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *demoStore) wait(ctx context.Context, format string, args ...any) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	fmt.Fprintf(s.out, "    [db] "+format+"\n", args...)
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *demoStore) Get(ctx context.Context, id string) (demoUser, error) {
	if err := s.wait(ctx, "get %s", id); err != nil {
		return demoUser{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return demoUser{}, fmt.Errorf("user %s: %w", id, repositorycache.ErrNotFound)
	}
	return u, nil
}

func (s *demoStore) Create(ctx context.Context, u demoUser) (demoUser, error) {
	if err := s.wait(ctx, "create %s", u.Name); err != nil {
		return demoUser{}, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u, nil
}

func (s *demoStore) Update(ctx context.Context, u demoUser) (demoUser, error) {
	if err := s.wait(ctx, "update %s", u.ID); err != nil {
		return demoUser{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return demoUser{}, fmt.Errorf("user %s: %w", u.ID, repositorycache.ErrNotFound)
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *demoStore) Delete(ctx context.Context, id string) error {
	if err := s.wait(ctx, "delete %s", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

// Query understands the "active" filter only.
func (s *demoStore) Query(ctx context.Context, filters repositorycache.Filters) ([]demoUser, error) {
	if err := s.wait(ctx, "query %v", map[string]any(filters)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []demoUser
	for _, u := range s.users {
		if active, ok := filters["active"].(bool); ok && u.Active != active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *demoStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newDemoCmd(a *app) *cobra.Command {
	var latency time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through cache-aside reads and write invalidation",
		Long: `Run a cached user repository against a simulated slow store and show
which calls reach the store and which are served from the cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), a.container, latency)
		},
	}
	cmd.Flags().DurationVar(&latency, "latency", 100*time.Millisecond, "simulated store latency")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, container *di.Container, latency time.Duration) error {
	john := demoUser{ID: uuid.NewString(), Name: "John Doe", Email: "john@example.com", Active: true}
	jane := demoUser{ID: uuid.NewString(), Name: "Jane Smith", Email: "jane@example.com", Active: true}
	bob := demoUser{ID: uuid.NewString(), Name: "Bob Johnson", Email: "bob@example.com"}

	store := newDemoStore(out, latency, john, jane, bob)
	users, err := di.NewCachedRepository[demoUser](container, store, cache.RepositoryConfig{
		Enabled:          true,
		TTL:              time.Minute,
		KeyPrefix:        "user",
		PopulateOnCreate: true,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "provider %s, namespace %q\n\n", container.Settings().DefaultProvider, container.Settings().Namespace)

	step := func(title string, fn func() (string, error)) error {
		before := store.Calls()
		started := time.Now()
		fmt.Fprintf(out, "%s\n", title)
		result, err := fn()
		if err != nil {
			return err
		}
		source := "cache hit"
		if store.Calls() > before {
			source = "store"
		}
		fmt.Fprintf(out, "    %s (%s, %v)\n\n", result, source, time.Since(started).Round(time.Millisecond))
		return nil
	}

	findJohn := func() (string, error) {
		u, found, err := users.FindByIDCached(ctx, john.ID)
		if err != nil {
			return "", err
		}
		if !found {
			return "not found", nil
		}
		return fmt.Sprintf("%s <%s>", u.Name, u.Email), nil
	}
	queryActive := func() (string, error) {
		active, err := users.QueryCached(ctx, repositorycache.Filters{"active": true})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d active users", len(active)), nil
	}

	steps := []struct {
		title string
		fn    func() (string, error)
	}{
		{"1. find John (miss)", findJohn},
		{"2. find John again", findJohn},
		{"3. query active users (miss)", queryActive},
		{"4. query active users again", queryActive},
		{"5. update John's email", func() (string, error) {
			john.Email = "john.doe@example.com"
			if _, err := users.Update(ctx, john); err != nil {
				return "", err
			}
			return "drops user:" + john.ID + " and user", nil
		}},
		{"6. find John after update", findJohn},
		{"7. query active users after update", queryActive},
		{"8. force refresh John", func() (string, error) {
			u, _, err := users.FindByIDCached(ctx, john.ID, cache.ForceRefresh())
			if err != nil {
				return "", err
			}
			return u.Name, nil
		}},
		{"9. create Alice, cached on create", func() (string, error) {
			alice, err := users.Create(ctx, demoUser{Name: "Alice Cooper", Email: "alice@example.com", Active: true})
			if err != nil {
				return "", err
			}
			u, _, err := users.FindByIDCached(ctx, alice.ID)
			if err != nil {
				return "", err
			}
			return "created " + u.Name, nil
		}},
		{"10. delete Jane", func() (string, error) {
			if err := users.Delete(ctx, jane.ID); err != nil {
				return "", err
			}
			_, found, err := users.FindByIDCached(ctx, jane.ID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("found after delete: %v", found), nil
		}},
	}

	for _, s := range steps {
		if err := step(s.title, s.fn); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "store calls: %d\n", store.Calls())
	return nil
}
