package script

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

var (
	ErrEmptyGroup     = errors.New("script group name is required")
	ErrScriptTooLarge = errors.New("script source exceeds size limit")
)

// Registry holds the ordered user and plugin scripts of one page.
//
// Plugin scripts are injected before user scripts; within each kind the
// registration order is the injection order.
type Registry struct {
	mu        sync.RWMutex
	registrar HandlerRegistrar
	logger    *zap.Logger
	hasher    *utils.Hasher
	sizes     *utils.SizeValidator

	plugin map[InjectionTime][]entry
	user   map[InjectionTime][]entry
	worlds map[string]ContentWorld
}

type entry struct {
	script      InjectableScript
	fingerprint string
}

// NewRegistry creates an empty registry. registrar may be nil when no
// transport is attached yet; scripts with message handler names then fail
// to register.
func NewRegistry(registrar HandlerRegistrar, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		registrar: registrar,
		logger:    logger,
		hasher:    utils.DefaultHasher(),
		sizes:     utils.NewSizeValidator(utils.MaxScriptSize),
		plugin:    make(map[InjectionTime][]entry),
		user:      make(map[InjectionTime][]entry),
		worlds:    map[string]ContentWorld{PageWorld.Name: PageWorld},
	}
}

// Register appends a script to its injection bucket.
//
// Message handler names are wired through the registrar before the script
// is stored. Registering a plugin script that is already present (same
// group and source in the same world) is a no-op. A script bound to a
// content world not seen before receives copies of every plugin script
// that is required in all content worlds.
func (r *Registry) Register(s InjectableScript) error {
	if s.GroupName == "" {
		return ErrEmptyGroup
	}
	if err := r.sizes.ValidateSize([]byte(s.Source)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrScriptTooLarge, s.GroupName, err)
	}
	if s.ContentWorld.Name == "" {
		s.ContentWorld = PageWorld
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Plugin && r.containsLocked(s) {
		return nil
	}
	if err := r.wireHandlersLocked(s); err != nil {
		return err
	}

	if _, seen := r.worlds[s.ContentWorld.Name]; !seen {
		if err := r.addForContentWorldLocked(s.ContentWorld); err != nil {
			return err
		}
	}

	r.appendLocked(s)
	if s.Plugin && s.RequiredInAllContentWorlds && s.ContentWorld.IsPage() {
		for _, w := range r.otherWorldsLocked() {
			c := s.InWorld(w)
			if err := r.wireHandlersLocked(c); err != nil {
				return err
			}
			r.appendLocked(c)
		}
	}
	r.logger.Debug("Script registered",
		zap.String("group", s.GroupName),
		zap.Stringer("time", s.InjectionTime),
		zap.String("world", s.ContentWorld.Name),
		zap.Bool("plugin", s.Plugin),
	)
	return nil
}

// Unregister removes every user and plugin script of a group and returns
// how many were removed.
func (r *Registry) Unregister(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, buckets := range []map[InjectionTime][]entry{r.plugin, r.user} {
		for t, entries := range buckets {
			kept := entries[:0]
			for _, e := range entries {
				if e.script.GroupName == group {
					removed++
					continue
				}
				kept = append(kept, e)
			}
			buckets[t] = kept
		}
	}
	if removed > 0 {
		r.logger.Debug("Script group unregistered", zap.String("group", group), zap.Int("count", removed))
	}
	return removed
}

// RemoveScript removes one script matching group, source and world.
func (r *Registry) RemoveScript(s InjectableScript) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := r.hasher.Fingerprint(s.GroupName, s.Source)
	buckets := r.user
	if s.Plugin {
		buckets = r.plugin
	}
	entries := buckets[s.InjectionTime]
	for i, e := range entries {
		if e.fingerprint == fp && e.script.ContentWorld.Name == worldName(s.ContentWorld) {
			buckets[s.InjectionTime] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAll drops every user script, and the plugin scripts too unless
// userOnly is set.
func (r *Registry) RemoveAll(userOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.user = make(map[InjectionTime][]entry)
	if !userOnly {
		r.plugin = make(map[InjectionTime][]entry)
		r.worlds = map[string]ContentWorld{PageWorld.Name: PageWorld}
	}
}

// Contains reports whether any script of the group is registered.
func (r *Registry) Contains(group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, buckets := range []map[InjectionTime][]entry{r.plugin, r.user} {
		for _, entries := range buckets {
			for _, e := range entries {
				if e.script.GroupName == group {
					return true
				}
			}
		}
	}
	return false
}

// ContainsScript reports whether an identical script is registered.
func (r *Registry) ContainsScript(s InjectableScript) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containsLocked(s)
}

// ScriptsFor returns the scripts to inject into a frame at a given time:
// plugin scripts first, then user scripts. Main-frame-only scripts are
// left out for sub frames.
func (r *Registry) ScriptsFor(frame Frame, t InjectionTime) []InjectableScript {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []InjectableScript
	for _, entries := range [][]entry{r.plugin[t], r.user[t]} {
		for _, e := range entries {
			if frame == SubFrame && e.script.ForMainFrameOnly {
				continue
			}
			out = append(out, e.script)
		}
	}
	return out
}

// All returns every script in injection order: document-start scripts
// before document-end ones.
func (r *Registry) All() []InjectableScript {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []InjectableScript
	for _, t := range []InjectionTime{AtDocumentStart, AtDocumentEnd} {
		for _, entries := range [][]entry{r.plugin[t], r.user[t]} {
			for _, e := range entries {
				out = append(out, e.script)
			}
		}
	}
	return out
}

// RequiredInAllContentWorlds returns the page-world plugin scripts that
// must also run in every other content world.
func (r *Registry) RequiredInAllContentWorlds() []InjectableScript {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requiredLocked()
}

// ContentWorlds lists the worlds scripts have been registered in.
func (r *Registry) ContentWorlds() []ContentWorld {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]ContentWorld{PageWorld}, r.otherWorldsLocked()...)
}

// AddForContentWorld copies the scripts required in all content worlds
// into w. It is a no-op for worlds that were already set up.
func (r *Registry) AddForContentWorld(w ContentWorld) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.worlds[worldName(w)]; seen {
		return nil
	}
	return r.addForContentWorldLocked(w)
}

func (r *Registry) addForContentWorldLocked(w ContentWorld) error {
	r.worlds[w.Name] = w
	for _, s := range r.requiredLocked() {
		c := s.InWorld(w)
		if r.containsLocked(c) {
			continue
		}
		if err := r.wireHandlersLocked(c); err != nil {
			return err
		}
		r.appendLocked(c)
	}
	r.logger.Debug("Content world prepared", zap.String("world", w.Name))
	return nil
}

func (r *Registry) otherWorldsLocked() []ContentWorld {
	others := make([]ContentWorld, 0, len(r.worlds))
	for name, w := range r.worlds {
		if name != PageWorld.Name {
			others = append(others, w)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].Name < others[j].Name })
	return others
}

func (r *Registry) requiredLocked() []InjectableScript {
	var out []InjectableScript
	for _, t := range []InjectionTime{AtDocumentStart, AtDocumentEnd} {
		for _, e := range r.plugin[t] {
			if e.script.RequiredInAllContentWorlds && e.script.ContentWorld.IsPage() {
				out = append(out, e.script)
			}
		}
	}
	return out
}

func (r *Registry) wireHandlersLocked(s InjectableScript) error {
	if len(s.MessageHandlerNames) == 0 {
		return nil
	}
	if r.registrar == nil {
		return fmt.Errorf("script %s posts to host handlers but no transport is attached", s.GroupName)
	}
	for _, name := range s.MessageHandlerNames {
		if err := r.registrar.AddMessageHandler(name, s.ContentWorld); err != nil {
			return fmt.Errorf("failed to wire message handler %s: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) appendLocked(s InjectableScript) {
	e := entry{script: s, fingerprint: r.hasher.Fingerprint(s.GroupName, s.Source)}
	if s.Plugin {
		r.plugin[s.InjectionTime] = append(r.plugin[s.InjectionTime], e)
	} else {
		r.user[s.InjectionTime] = append(r.user[s.InjectionTime], e)
	}
}

func (r *Registry) containsLocked(s InjectableScript) bool {
	fp := r.hasher.Fingerprint(s.GroupName, s.Source)
	buckets := r.user
	if s.Plugin {
		buckets = r.plugin
	}
	for _, e := range buckets[s.InjectionTime] {
		if e.fingerprint == fp && e.script.ContentWorld.Name == worldName(s.ContentWorld) {
			return true
		}
	}
	return false
}

func worldName(w ContentWorld) string {
	if w.Name == "" {
		return PageWorld.Name
	}
	return w.Name
}
