package match

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Registry indexes matches by id and by player. Its lock only guards the
// indexes; callers that hold a match lock may call into the registry, never
// the other way round.
type Registry struct {
	mu sync.RWMutex

	matches   map[string]*Match
	open      map[string]struct{}
	active    map[string]struct{}
	completed map[string]struct{}

	// outstanding maps a player to their single waiting or active match.
	outstanding map[string]string
	// seated maps a player to every retained match they sit in.
	seated map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		matches:     make(map[string]*Match),
		open:        make(map[string]struct{}),
		active:      make(map[string]struct{}),
		completed:   make(map[string]struct{}),
		outstanding: make(map[string]string),
		seated:      make(map[string]map[string]struct{}),
	}
}

// Get returns the match with id.
func (r *Registry) Get(id string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	return m, ok
}

// Outstanding returns the waiting or active match id of player.
func (r *Registry) Outstanding(player string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.outstanding[player]
	return id, ok
}

// Len returns the number of retained matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// insert adds a new waiting match and claims its creator.
func (r *Registry) insert(m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.outstanding[m.SeatA]; busy {
		return ErrPlayerBusy
	}
	r.matches[m.ID] = m
	r.open[m.ID] = struct{}{}
	r.outstanding[m.SeatA] = m.ID
	r.seat(m.SeatA, m.ID)
	return nil
}

// activate claims the joiner and moves the match from open to active.
func (r *Registry) activate(id, joiner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.outstanding[joiner]; busy {
		return ErrPlayerBusy
	}
	delete(r.open, id)
	r.active[id] = struct{}{}
	r.outstanding[joiner] = id
	r.seat(joiner, id)
	return nil
}

// complete moves a match to completed and releases both players.
func (r *Registry) complete(id string, players ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)
	r.completed[id] = struct{}{}
	for _, p := range players {
		if r.outstanding[p] == id {
			delete(r.outstanding, p)
		}
	}
}

// remove drops a match and every index entry pointing at it.
func (r *Registry) remove(id string, players ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.matches, id)
	delete(r.open, id)
	delete(r.active, id)
	delete(r.completed, id)
	for _, p := range players {
		if r.outstanding[p] == id {
			delete(r.outstanding, p)
		}
		if ids, ok := r.seated[p]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.seated, p)
			}
		}
	}
}

func (r *Registry) seat(player, id string) {
	ids, ok := r.seated[player]
	if !ok {
		ids = make(map[string]struct{})
		r.seated[player] = ids
	}
	ids[id] = struct{}{}
}

func (r *Registry) collect(set map[string]struct{}) []*Match {
	out := make([]*Match, 0, len(set))
	for id := range set {
		if m, ok := r.matches[id]; ok {
			out = append(out, m)
		}
	}
	sortByCreation(out)
	return out
}

func (r *Registry) openMatches() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.open)
}

func (r *Registry) activeMatches() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.active)
}

func (r *Registry) completedMatches() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.completed)
}

func (r *Registry) matchesFor(player string) []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.seated[player])
}

// Stats are projections over the retained matches.
type Stats struct {
	Matches              int             `json:"matches"`
	Open                 int             `json:"open"`
	Active               int             `json:"active"`
	Completed            int             `json:"completed"`
	Players              int             `json:"players"`
	PrizePoolDistributed decimal.Decimal `json:"prizePoolDistributed"`
}

func (r *Registry) stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Stake is immutable, so completed matches can be summed without
	// taking their locks.
	total := decimal.Zero
	for id := range r.completed {
		if m, ok := r.matches[id]; ok {
			total = total.Add(m.PrizePool())
		}
	}
	return Stats{
		Matches:              len(r.matches),
		Open:                 len(r.open),
		Active:               len(r.active),
		Completed:            len(r.completed),
		Players:              len(r.seated),
		PrizePoolDistributed: total,
	}
}

func sortByCreation(ms []*Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
