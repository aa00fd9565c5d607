package directory

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pairing is one master/slave registration.
type Pairing struct {
	ID      uuid.UUID  `json:"id"`
	Master  netip.Addr `json:"master"`
	Slave   netip.Addr `json:"slave"`
	Created time.Time  `json:"created"`
}

// DefaultPairingTTL is how long a pairing outlives its registration. A match
// lasts well under a minute; the slack covers slow slaves.
const DefaultPairingTTL = 10 * time.Minute

// Registry holds the pairings announced by masters, keyed by slave address.
// A new registration for the same slave replaces the old one, and pairings
// older than TTL are dropped.
type Registry struct {
	// TTL is the pairing lifetime. Zero keeps pairings forever.
	TTL time.Duration

	mu      sync.Mutex
	bySlave map[netip.Addr]Pairing
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		TTL:     DefaultPairingTTL,
		bySlave: make(map[netip.Addr]Pairing),
		now:     time.Now,
	}
}

// expireLocked drops pairings past their TTL. r.mu must be held.
func (r *Registry) expireLocked() {
	if r.TTL <= 0 {
		return
	}
	cutoff := r.now().UTC().Add(-r.TTL)
	for slave, p := range r.bySlave {
		if p.Created.Before(cutoff) {
			delete(r.bySlave, slave)
		}
	}
}

// Register records that master picked slave.
func (r *Registry) Register(master, slave netip.Addr) Pairing {
	p := Pairing{
		ID:      uuid.New(),
		Master:  master,
		Slave:   slave,
		Created: r.now().UTC(),
	}
	r.mu.Lock()
	r.expireLocked()
	r.bySlave[slave] = p
	r.mu.Unlock()
	return p
}

// ForSlave returns the live pairing naming slave.
func (r *Registry) ForSlave(slave netip.Addr) (Pairing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	p, ok := r.bySlave[slave]
	return p, ok
}

// List returns all live pairings, oldest first.
func (r *Registry) List() []Pairing {
	r.mu.Lock()
	r.expireLocked()
	out := make([]Pairing, 0, len(r.bySlave))
	for _, p := range r.bySlave {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
