package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrTooManyPages = errors.New("too many open pages")
)

// State is the lifecycle state of a page.
type State string

const (
	StateActive     State = "active"
	StateBackground State = "background"
	StateClosed     State = "closed"
)

// Page describes an open page.
type Page struct {
	ID        id.PageID  `json:"id"`
	Title     string     `json:"title,omitempty"`
	URL       string     `json:"url,omitempty"`
	Kind      string     `json:"kind"`
	State     State      `json:"state"`
	ParentID  *id.PageID `json:"parent_id,omitempty"`
	WindowID  *int64     `json:"window_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	adapter platform.Adapter
	ctrl    *webview.Controller
}

// Controller returns the page controller.
func (p *Page) Controller() *webview.Controller { return p.ctrl }

// Adapter returns the page host.
func (p *Page) Adapter() platform.Adapter { return p.adapter }

// OpenRequest describes a page to open.
type OpenRequest struct {
	Title    string
	Adapter  platform.Adapter
	Settings webview.Settings
	Options  webview.Options
	// ParentID opens the page as a window of another page. Child windows
	// get a window id and close with their parent.
	ParentID *id.PageID
}

// Recorder counts open pages.
type Recorder interface {
	PageOpened()
	PageClosed()
}

// Stats summarizes open pages.
type Stats struct {
	TotalPages      int        `json:"total_pages"`
	ActivePages     int        `json:"active_pages"`
	BackgroundPages int        `json:"background_pages"`
	FocusedPageID   *id.PageID `json:"focused_page_id,omitempty"`
}

// Manager orchestrates page lifecycle.
type Manager struct {
	mu           sync.RWMutex
	pages        map[id.PageID]*Page // Protected by mu
	focusedID    *id.PageID          // Protected by mu
	nextWindowID int64               // Protected by mu
	maxPages     int
	recorder     Recorder
	logger       *zap.Logger
}

// NewManager creates a manager holding at most maxPages pages. Zero means
// no limit.
func NewManager(maxPages int, logger *zap.Logger, recorder Recorder) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pages:    make(map[id.PageID]*Page),
		maxPages: maxPages,
		recorder: recorder,
		logger:   logger,
	}
}

// Open builds a controller over req.Adapter, prepares its scripts and
// focuses the new page.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Page, error) {
	if req.Adapter == nil {
		return nil, fmt.Errorf("page adapter is required")
	}

	pageID := req.Options.ID
	if pageID == "" {
		pageID = id.NewPageID()
	}

	m.mu.Lock()
	if m.maxPages > 0 && len(m.pages) >= m.maxPages {
		m.mu.Unlock()
		return nil, ErrTooManyPages
	}
	var windowID *int64
	if req.ParentID != nil {
		if _, ok := m.pages[*req.ParentID]; !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: parent %s", ErrPageNotFound, *req.ParentID)
		}
		m.nextWindowID++
		wid := m.nextWindowID
		windowID = &wid
	}
	m.mu.Unlock()

	opts := req.Options
	opts.ID = pageID
	if windowID != nil {
		opts.WindowID = windowID
	}
	if opts.Logger == nil {
		opts.Logger = m.logger
	}

	ctrl, err := webview.New(req.Adapter, req.Settings, opts)
	if err != nil {
		return nil, err
	}
	if err := ctrl.PrepareScripts(ctx); err != nil {
		ctrl.Dispose(ctx)
		return nil, fmt.Errorf("failed to prepare page scripts: %w", err)
	}

	p := &Page{
		ID:        pageID,
		Title:     req.Title,
		Kind:      req.Adapter.Kind().String(),
		State:     StateActive,
		ParentID:  req.ParentID,
		WindowID:  opts.WindowID,
		CreatedAt: time.Now(),
		adapter:   req.Adapter,
		ctrl:      ctrl,
	}

	m.mu.Lock()
	if m.maxPages > 0 && len(m.pages) >= m.maxPages {
		m.mu.Unlock()
		ctrl.Dispose(ctx)
		return nil, ErrTooManyPages
	}
	m.backgroundFocusedLocked()
	m.pages[pageID] = p
	m.focusedID = &p.ID
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.PageOpened()
	}
	m.logger.Info("Page opened",
		zap.String("page_id", pageID.String()),
		zap.String("kind", p.Kind),
	)

	pageCopy := *p
	return &pageCopy, nil
}

// Get retrieves a page by ID.
func (m *Manager) Get(pageID id.PageID) (*Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pages[pageID]
	if !ok {
		return nil, false
	}
	pageCopy := *p
	return &pageCopy, true
}

// List returns all pages, optionally filtered by state.
func (m *Manager) List(state *State) []*Page {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		if state == nil || p.State == *state {
			pageCopy := *p
			pages = append(pages, &pageCopy)
		}
	}
	return pages
}

// SetURL records the document a page shows.
func (m *Manager) SetURL(pageID id.PageID, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageID]
	if !ok {
		return false
	}
	p.URL = url
	return true
}

// SetTitle sets the page title unless one was given when it opened.
func (m *Manager) SetTitle(pageID id.PageID, title string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageID]
	if !ok {
		return false
	}
	if p.Title == "" {
		p.Title = title
	}
	return true
}

// Focus brings a page to the foreground.
func (m *Manager) Focus(pageID id.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageID]
	if !ok {
		return false
	}
	if m.focusedID == nil || *m.focusedID != pageID {
		m.backgroundFocusedLocked()
	}
	p.State = StateActive
	m.focusedID = &p.ID
	return true
}

// Close disposes a page and the windows it opened.
func (m *Manager) Close(ctx context.Context, pageID id.PageID) bool {
	m.mu.Lock()
	if _, ok := m.pages[pageID]; !ok {
		m.mu.Unlock()
		return false
	}

	closing := m.collectLocked(pageID, nil)
	for _, p := range closing {
		p.State = StateClosed
		delete(m.pages, p.ID)
	}

	if m.focusedID != nil {
		if _, alive := m.pages[*m.focusedID]; !alive {
			m.focusedID = nil
			for _, p := range m.pages {
				p.State = StateActive
				m.focusedID = &p.ID
				break
			}
		}
	}
	m.mu.Unlock()

	// Controllers evaluate in their pages while disposing, so they are
	// released outside the lock.
	for _, p := range closing {
		m.release(ctx, p)
	}
	return true
}

// CloseAll disposes every page.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	closing := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		p.State = StateClosed
		closing = append(closing, p)
	}
	m.pages = make(map[id.PageID]*Page)
	m.focusedID = nil
	m.mu.Unlock()

	for _, p := range closing {
		m.release(ctx, p)
	}
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, p := range m.pages {
		s.TotalPages++
		switch p.State {
		case StateActive:
			s.ActivePages++
		case StateBackground:
			s.BackgroundPages++
		}
	}
	if m.focusedID != nil {
		focused := *m.focusedID
		s.FocusedPageID = &focused
	}
	return s
}

// collectLocked returns pageID and its descendants, children first.
func (m *Manager) collectLocked(pageID id.PageID, acc []*Page) []*Page {
	for _, child := range m.pages {
		if child.ParentID != nil && *child.ParentID == pageID {
			acc = m.collectLocked(child.ID, acc)
		}
	}
	return append(acc, m.pages[pageID])
}

func (m *Manager) backgroundFocusedLocked() {
	if m.focusedID == nil {
		return
	}
	if current, ok := m.pages[*m.focusedID]; ok && current.State == StateActive {
		current.State = StateBackground
	}
}

func (m *Manager) release(ctx context.Context, p *Page) {
	p.ctrl.Dispose(ctx)
	if closer, ok := p.adapter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			m.logger.Warn("Failed to close page host",
				zap.String("page_id", p.ID.String()),
				zap.Error(err),
			)
		}
	}
	if m.recorder != nil {
		m.recorder.PageClosed()
	}
	m.logger.Info("Page closed", zap.String("page_id", p.ID.String()))
}
