package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/praxisworks/praxis/pkg/registry"
)

// Registry indexes loaded skills by name and by trigger tag.
type Registry struct {
	*registry.BaseRegistry[*Skill]

	mu    sync.RWMutex
	byTag map[string][]*Skill
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[*Skill](),
		byTag:        map[string][]*Skill{},
	}
}

// Add registers a skill, replacing any previous skill with the same name.
func (r *Registry) Add(skill *Skill) error {
	if err := r.Replace(skill.Name, skill); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tag := range skill.Tags {
		r.byTag[tag] = appendUniqueSkill(r.byTag[tag], skill)
	}
	return nil
}

func appendUniqueSkill(list []*Skill, skill *Skill) []*Skill {
	for i, s := range list {
		if s.Name == skill.Name {
			list[i] = skill
			return list
		}
	}
	return append(list, skill)
}

// ByTag returns the skills carrying a trigger tag.
func (r *Registry) ByTag(tag string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, len(r.byTag[tag]))
	copy(out, r.byTag[tag])
	return out
}

// Loader reads skill files from a directory, cross-checks tool references,
// and optionally hot-reloads on changes.
type Loader struct {
	dir        string
	knownTools func(name string) bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader builds a loader. knownTools is consulted during the cross-check;
// a skill referencing an unknown tool fails the load fast.
func NewLoader(dir string, knownTools func(name string) bool) *Loader {
	return &Loader{dir: dir, knownTools: knownTools}
}

// Load scans the directory with a parallel fan-out and fills the registry.
// A missing directory is not an error: the deployment simply has no skills.
func (l *Loader) Load(ctx context.Context, reg *Registry) error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		slog.Info("Skill directory does not exist, no skills loaded", "dir", l.dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read skill directory %s: %w", l.dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	var mu sync.Mutex
	var loaded []*Skill

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			skill, err := l.loadFile(path)
			if err != nil {
				return err
			}
			mu.Lock()
			loaded = append(loaded, skill)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, skill := range loaded {
		if err := reg.Add(skill); err != nil {
			return err
		}
	}
	slog.Info("Loaded skills", "count", len(loaded), "dir", l.dir)
	return nil
}

func (l *Loader) loadFile(path string) (*Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read skill %s: %w", path, err)
	}
	skill, err := Parse(path, raw)
	if err != nil {
		return nil, err
	}

	// Cross-check: a skill referencing tools that do not exist is a
	// deployment error, caught at startup rather than mid-request.
	if l.knownTools != nil {
		for _, tool := range skill.Tools {
			if !l.knownTools(tool) {
				return nil, fmt.Errorf("skill %s references unknown tool %q", skill.Name, tool)
			}
		}
	}
	return skill, nil
}

// Watch hot-reloads skills on file changes until Stop or context cancel.
func (l *Loader) Watch(ctx context.Context, reg *Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create skill watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch skill directory %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				skill, err := l.loadFile(event.Name)
				if err != nil {
					slog.Warn("Skill reload failed", "path", event.Name, "error", err)
					continue
				}
				if err := reg.Add(skill); err != nil {
					slog.Warn("Skill re-register failed", "skill", skill.Name, "error", err)
					continue
				}
				slog.Info("Reloaded skill", "skill", skill.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Skill watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Stop closes the watcher and waits for the watch loop to exit.
func (l *Loader) Stop() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		<-l.done
	}
}
