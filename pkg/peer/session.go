package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/taurusgroup/p2p-wager/internal/hash"
	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/election"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
	"github.com/taurusgroup/p2p-wager/pkg/transport"
)

// ErrTooManyErrors is returned by Run when the peer kept sending malformed messages.
var ErrTooManyErrors = errors.New("peer: too many malformed messages")

// Observer receives the application level events of a session. Calls are
// made from the session loop, one at a time, in arrival order.
type Observer interface {
	OnInitialState(m *InitialState)
	OnStartGame(m *StartGame)
	OnEndGame(m *EndGame)
	OnPosition(m *UpdatePosition)
	OnAuthority(r election.Result)
	// OnCash and OnStake are called once per token, however often it is
	// delivered, until one of them succeeds. A token whose call failed is
	// handled again when the peer resends it.
	OnCash(ctx context.Context, m *SendCash) error
	OnStake(ctx context.Context, m *LockStake) error
	OnClosed(err error)
}

// NopObserver ignores every event. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnInitialState(*InitialState)              {}
func (NopObserver) OnStartGame(*StartGame)                    {}
func (NopObserver) OnEndGame(*EndGame)                        {}
func (NopObserver) OnPosition(*UpdatePosition)                {}
func (NopObserver) OnAuthority(election.Result)               {}
func (NopObserver) OnCash(context.Context, *SendCash) error   { return nil }
func (NopObserver) OnStake(context.Context, *LockStake) error { return nil }
func (NopObserver) OnClosed(error)                            {}

// Config holds the collaborators of a Session.
type Config struct {
	Conn     transport.Conn
	Election *election.Engine
	Observer Observer
	Logger   zerolog.Logger

	// ElectionTimeout defaults to params.ElectionTimeout.
	ElectionTimeout time.Duration
	// DedupSize defaults to params.DedupCacheSize.
	DedupSize int
	// MaxProtocolErrors defaults to params.MaxProtocolErrors.
	MaxProtocolErrors int
}

// Session runs the protocol over one connection.
type Session struct {
	cfg  Config
	log  zerolog.Logger
	seen *lru.Cache[string, struct{}]

	// kick re-arms the election timer from outside the loop.
	kick chan struct{}

	mu     sync.Mutex
	remote *InitialState
	pos    *UpdatePosition
}

// NewSession checks cfg and fills in its defaults.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Conn == nil || cfg.Election == nil {
		return nil, errors.New("peer: connection and election engine are required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = params.ElectionTimeout
	}
	if cfg.DedupSize == 0 {
		cfg.DedupSize = params.DedupCacheSize
	}
	if cfg.MaxProtocolErrors == 0 {
		cfg.MaxProtocolErrors = params.MaxProtocolErrors
	}
	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}
	return &Session{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "peer").Logger(),
		seen: seen,
		kick: make(chan struct{}, 1),
	}, nil
}

// Send encodes m and writes it to the peer.
func (s *Session) Send(ctx context.Context, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	if err = s.cfg.Conn.Send(ctx, b); err != nil {
		return protocol.Wrap(protocol.Transport, string(m.Type()), err)
	}
	return nil
}

// StartGame announces a match to the peer and starts the election of epoch.
//
// The local election starts before the announcement is sent, so the peer's
// draw can never arrive ahead of it.
func (s *Session) StartGame(ctx context.Context, epoch uint64) error {
	d, err := s.cfg.Election.Start(epoch)
	if err != nil {
		return err
	}
	if err = s.Send(ctx, &StartGame{Epoch: epoch}); err != nil {
		return err
	}
	return s.sendDraw(ctx, d)
}

func (s *Session) startElection(ctx context.Context, epoch uint64) error {
	d, err := s.cfg.Election.Start(epoch)
	if err != nil {
		return err
	}
	return s.sendDraw(ctx, d)
}

func (s *Session) sendDraw(ctx context.Context, d *election.Draw) error {
	if d == nil {
		return nil
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	m := DetermineHost(*d)
	return s.Send(ctx, &m)
}

// Remote returns the peer's introduction, nil before it arrived.
func (s *Session) Remote() *InitialState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	r := *s.remote
	return &r
}

// Position returns the peer's last reported position.
func (s *Session) Position() *UpdatePosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		return nil
	}
	p := *s.pos
	return &p
}

// Run processes incoming messages until ctx is done or the link goes down.
// A peer that leaves mid-election leaves the local side authoritative.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() { s.cfg.Observer.OnClosed(err) }()

	timer := time.NewTimer(s.cfg.ElectionTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	conn := s.cfg.Conn
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-conn.Done():
			return s.peerGone()

		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.ElectionTimeout)

		case <-timer.C:
			d, err := s.cfg.Election.Timeout()
			if err != nil {
				return err
			}
			if err = s.sendDraw(ctx, d); err != nil {
				s.log.Warn().Err(err).Msg("resending draw failed")
			}

		case b := <-conn.Incoming():
			err := s.handle(ctx, b)
			switch {
			case err == nil:
				failures = 0
			case protocol.IsKind(err, protocol.Protocol):
				failures++
				s.log.Warn().Err(err).Int("failures", failures).Msg("message dropped")
				if failures >= s.cfg.MaxProtocolErrors {
					_ = conn.Close()
					return protocol.Wrap(protocol.Protocol, "run", ErrTooManyErrors)
				}
			default:
				s.log.Warn().Err(err).Msg("handling message failed")
			}
		}
	}
}

func (s *Session) peerGone() error {
	st := s.cfg.Election.State()
	if st.Started && !st.Decided {
		res := s.cfg.Election.PeerClosed()
		s.cfg.Observer.OnAuthority(*res)
	}
	return protocol.Wrap(protocol.Transport, "run", transport.ErrClosed)
}

func (s *Session) handle(ctx context.Context, b []byte) error {
	msg, err := Decode(b)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *InitialState:
		s.mu.Lock()
		s.remote = m
		s.mu.Unlock()
		s.cfg.Observer.OnInitialState(m)

	case *StartGame:
		s.cfg.Observer.OnStartGame(m)
		st := s.cfg.Election.State()
		if st.Started && st.Epoch >= m.Epoch {
			return nil
		}
		return s.startElection(ctx, m.Epoch)

	case *EndGame:
		s.cfg.Observer.OnEndGame(m)

	case *UpdatePosition:
		s.mu.Lock()
		s.pos = m
		s.mu.Unlock()
		s.cfg.Observer.OnPosition(m)

	case *DetermineHost:
		return s.handleDraw(ctx, election.Draw(*m))

	case *SendCash:
		key, err := dedupKey("cash", m.Token)
		if err != nil {
			return err
		}
		if s.duplicate(key) {
			return nil
		}
		if err = s.cfg.Observer.OnCash(ctx, m); err != nil {
			s.seen.Remove(key)
			return fmt.Errorf("peer: cash: %w", err)
		}

	case *LockStake:
		key, err := dedupKey(m.MatchID, m.Token)
		if err != nil {
			return err
		}
		if s.duplicate(key) {
			return nil
		}
		if err = s.cfg.Observer.OnStake(ctx, m); err != nil {
			s.seen.Remove(key)
			return fmt.Errorf("peer: stake %s: %w", m.MatchID, err)
		}
	}
	return nil
}

func (s *Session) handleDraw(ctx context.Context, d election.Draw) error {
	reply, res, err := s.cfg.Election.HandleDraw(d)
	if errors.Is(err, election.ErrNoResolution) {
		s.log.Info().Uint64("epoch", d.Epoch+1).Msg("restarting election")
		return s.startElection(ctx, d.Epoch+1)
	}
	if err != nil {
		return err
	}
	if res != nil {
		s.cfg.Observer.OnAuthority(*res)
	}
	return s.sendDraw(ctx, reply)
}

func (s *Session) duplicate(key string) bool {
	if ok, _ := s.seen.ContainsOrAdd(key, struct{}{}); ok {
		s.log.Debug().Str("key", key).Msg("duplicate token dropped")
		return true
	}
	return false
}

// dedupKey identifies a token by the set of its secrets, so that a token
// re-encoded by the sender is still recognized.
func dedupKey(scope, token string) (string, error) {
	t, err := cashu.DecodeToken(token)
	if err != nil {
		return "", protocol.Wrap(protocol.Protocol, "token", err)
	}
	secrets := t.Proofs.Secrets()
	sort.Strings(secrets)
	h := hash.New("p2p-wager/peer/token-id")
	if err = h.WriteAny(scope); err != nil {
		return "", err
	}
	for _, secret := range secrets {
		if err = h.WriteAny(secret); err != nil {
			return "", err
		}
	}
	return h.SumHex(), nil
}
