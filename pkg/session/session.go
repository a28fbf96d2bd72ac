// Package session holds the identity the engine currently acts for.
package session

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrInvalidAccount is returned when connecting the zero address.
var ErrInvalidAccount = errors.New("invalid account")

// Identity is a point-in-time view of the session.
type Identity struct {
	Account   common.Address
	Connected bool
}

// Observer is notified after every effective transition.
type Observer func(Identity)

// Session is the injected identity object. Transitions are explicit; readers
// never poll for changes.
type Session struct {
	mu        sync.RWMutex
	current   Identity
	observers []Observer
	logger    *zap.Logger
}

// New returns a disconnected session.
func New(logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{logger: logger}
}

// OnChange registers fn. Observers run synchronously, in registration order,
// outside the session lock. Notifications from concurrent transitions can
// arrive out of order; observers that act on the latest identity read Current.
func (s *Session) OnChange(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Connect makes account the current identity. Reconnecting the same account
// is a no-op; switching accounts notifies observers once.
func (s *Session) Connect(account common.Address) error {
	if account == (common.Address{}) {
		return ErrInvalidAccount
	}
	s.transition(Identity{Account: account, Connected: true})
	return nil
}

// Disconnect clears the identity.
func (s *Session) Disconnect() {
	s.transition(Identity{})
}

func (s *Session) transition(next Identity) {
	s.mu.Lock()
	if s.current == next {
		s.mu.Unlock()
		return
	}
	s.current = next
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.logger.Info("Session changed",
		zap.String("account", next.Account.Hex()),
		zap.Bool("connected", next.Connected))
	for _, fn := range observers {
		fn(next)
	}
}

// Current returns the current identity.
func (s *Session) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CurrentAccount returns the connected account and whether there is one.
func (s *Session) CurrentAccount() (common.Address, bool) {
	id := s.Current()
	return id.Account, id.Connected
}

// IsConnected reports whether an identity is present.
func (s *Session) IsConnected() bool {
	return s.Current().Connected
}
