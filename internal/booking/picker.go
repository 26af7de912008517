package booking

import (
	"context"
	"strings"
	"sync"

	"github.com/codr1/courtside/internal/clubapi"
)

// DefaultMinQueryLength is the shortest query sent to the member directory.
const DefaultMinQueryLength = 2

// MemberDirectory is where the picker looks members up.
type MemberDirectory interface {
	SearchMembers(ctx context.Context, query string) ([]clubapi.Member, error)
	Favorites(ctx context.Context) ([]clubapi.Member, error)
}

type Key int

const (
	KeyUp Key = iota
	KeyDown
	KeyEnter
	KeyEscape
)

// Picker is the search-as-you-type member list. An empty query shows the caller's
// favorites, anything else shows search results. Keyboard navigation works over
// whichever list is visible.
type Picker struct {
	directory      MemberDirectory
	minQueryLength int

	mu          sync.Mutex
	query       string
	generation  uint64
	results     []clubapi.Member
	favorites   []clubapi.Member
	loaded      bool
	highlighted int
	open        bool
}

func NewPicker(directory MemberDirectory, minQueryLength int) *Picker {
	if minQueryLength <= 0 {
		minQueryLength = DefaultMinQueryLength
	}
	return &Picker{
		directory:      directory,
		minQueryLength: minQueryLength,
		highlighted:    -1,
	}
}

// LoadFavorites fetches the favorites list shown for an empty query.
func (p *Picker) LoadFavorites(ctx context.Context) error {
	if p.directory == nil {
		return nil
	}
	favorites, err := p.directory.Favorites(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.favorites = favorites
	p.loaded = true
	p.mu.Unlock()
	return nil
}

// FavoritesLoaded reports whether LoadFavorites has succeeded.
func (p *Picker) FavoritesLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// SetQuery replaces the query and recomputes the result list. Responses for a query
// that has since been replaced are dropped.
func (p *Picker) SetQuery(ctx context.Context, query string) error {
	p.mu.Lock()
	p.generation++
	generation := p.generation
	p.query = query
	p.open = true
	p.highlighted = -1
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || len([]rune(trimmed)) < p.minQueryLength || p.directory == nil {
		p.results = nil
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	results, err := p.directory.SearchMembers(ctx, trimmed)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if generation == p.generation {
		p.results = results
	}
	return nil
}

func (p *Picker) Query() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

func (p *Picker) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Highlighted is the index into Visible, or -1.
func (p *Picker) Highlighted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highlighted
}

// Visible returns the list currently on screen.
func (p *Picker) Visible() []clubapi.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]clubapi.Member(nil), p.visible()...)
}

func (p *Picker) visible() []clubapi.Member {
	if strings.TrimSpace(p.query) == "" {
		return p.favorites
	}
	return p.results
}

// HandleKey applies one key press. It returns the chosen member when Enter selects
// the highlighted row.
func (p *Picker) HandleKey(key Key) (clubapi.Member, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.visible()
	switch key {
	case KeyDown:
		p.open = true
		if len(list) > 0 && p.highlighted < len(list)-1 {
			p.highlighted++
		}
	case KeyUp:
		if p.highlighted > 0 {
			p.highlighted--
		}
	case KeyEnter:
		if p.highlighted < 0 || p.highlighted >= len(list) {
			return clubapi.Member{}, false
		}
		chosen := list[p.highlighted]
		p.dismiss()
		return chosen, true
	case KeyEscape:
		p.dismiss()
	}
	return clubapi.Member{}, false
}

// Reset clears the query and closes the list. Favorites are kept.
func (p *Picker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.query = ""
	p.results = nil
	p.dismiss()
}

func (p *Picker) dismiss() {
	p.open = false
	p.highlighted = -1
}
