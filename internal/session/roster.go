package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/registry"
)

// Publisher accepts outbound frames for fan-out. *hub.Hub satisfies it.
type Publisher interface {
	Publish(frame []byte) int
}

// Roster couples registry mutations with the users broadcast that follows
// them. The mutex makes mutate-then-publish a single step, so subscribers
// see roster frames in mutation order and the last one they see is current.
type Roster struct {
	mu  sync.Mutex
	reg *registry.Registry
	pub Publisher
	log *zap.Logger
}

// NewRoster creates a Roster shared by every session of a server.
func NewRoster(reg *registry.Registry, pub Publisher, log *zap.Logger) *Roster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Roster{reg: reg, pub: pub, log: log}
}

// Join registers name for id and broadcasts the resulting roster.
func (r *Roster) Join(id, name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := r.reg.Register(id, name)
	if err := r.publishLocked(roster); err != nil {
		return roster, err
	}
	r.log.Info("user registered", zap.String("conn", id), zap.String("name", name), zap.Int("roster", len(roster)))
	return roster, nil
}

// Leave removes id and, if it was registered, broadcasts the new roster.
// It reports whether an entry was removed.
func (r *Roster) Leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster, removed := r.reg.Remove(id)
	if !removed {
		return false
	}
	if err := r.publishLocked(roster); err != nil {
		r.log.Error("failed to broadcast roster after leave", zap.String("conn", id), zap.Error(err))
	}
	r.log.Info("user left", zap.String("conn", id), zap.Int("roster", len(roster)))
	return true
}

// Snapshot returns the current roster.
func (r *Roster) Snapshot() []string {
	return r.reg.Snapshot()
}

func (r *Roster) publishLocked(roster []string) error {
	frame, err := protocol.UsersFrame(roster)
	if err != nil {
		return err
	}
	r.pub.Publish(frame)
	return nil
}
