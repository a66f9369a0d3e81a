package election

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/taurusgroup/p2p-wager/internal/params"
)

// Config holds the identities and limits of an Engine.
type Config struct {
	// Self and Peer are the identity keys used to break ties.
	Self, Peer []byte
	// MaxRounds defaults to params.ElectionRounds.
	MaxRounds uint32
	// Rand defaults to crypto/rand.Reader.
	Rand   io.Reader
	Logger zerolog.Logger
}

// Result is the authority decision of one epoch.
type Result struct {
	Epoch uint64
	Round uint32
	// Authority is true if the local side injects shared events.
	Authority bool
	// Fallback is set when the local side took authority because the peer
	// left before the epoch was decided.
	Fallback bool
}

// State is a snapshot of the engine.
type State struct {
	Started   bool
	Epoch     uint64
	Round     uint32
	LocalDraw float64
	RemoteMax float64
	Decided   bool
	Result    Result
}

// Engine runs the election for one side of a session.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	started bool
	epoch   uint64
	round   uint32
	local   float64
	// draws holds the local draw of every round played in this epoch.
	draws     map[uint32]float64
	remoteMax float64
	decided   bool
	result    Result
}

// NewEngine returns an engine that has not started an election.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = params.ElectionRounds
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return &Engine{cfg: cfg, log: cfg.Logger.With().Str("component", "election").Logger()}
}

// Start begins the election of epoch and returns the draw to send to the peer.
// Draws of earlier epochs are ignored from now on.
func (e *Engine) Start(epoch uint64) (*Draw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start(epoch)
}

func (e *Engine) start(epoch uint64) (*Draw, error) {
	e.started = true
	e.epoch = epoch
	e.round = 0
	e.draws = make(map[uint32]float64)
	e.remoteMax = 0
	e.decided = false
	e.result = Result{Epoch: epoch}
	return e.redraw(0)
}

func (e *Engine) redraw(round uint32) (*Draw, error) {
	v, err := sampleDraw(e.cfg.Rand)
	if err != nil {
		return nil, err
	}
	e.round, e.local = round, v
	e.draws[round] = v
	return &Draw{Epoch: e.epoch, Round: round, Value: v}, nil
}

// HandleDraw processes the peer's draw. It returns a draw to send back, if
// any, and the result once the epoch is decided.
//
// Draws of earlier epochs are ignored, and a draw of a later epoch restarts
// the election at that epoch. A draw of a later round makes the local side
// draw at that round too. A late draw of an earlier round is decided against
// the local draw of that round. Once decided, a draw of a later round is
// answered with the local draw of the deciding round, so that a peer which
// moved on after a timeout reaches the same decision.
func (e *Engine) HandleDraw(d Draw) (reply *Draw, res *Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case !e.started || d.Epoch > e.epoch:
		if reply, err = e.start(d.Epoch); err != nil {
			return nil, nil, err
		}
	case d.Epoch < e.epoch:
		e.log.Debug().Uint64("epoch", d.Epoch).Uint32("round", d.Round).Msg("stale draw ignored")
		return nil, nil, nil
	case e.decided:
		if e.result.Fallback || d.Round <= e.result.Round {
			return nil, nil, nil
		}
		return &Draw{Epoch: e.epoch, Round: e.result.Round, Value: e.draws[e.result.Round]}, nil, nil
	}
	if d.Value > e.remoteMax {
		e.remoteMax = d.Value
	}

	if d.Round < e.round {
		local, ok := e.draws[d.Round]
		if !ok {
			return nil, nil, nil
		}
		switch Decide(local, d.Value, e.cfg.Self, e.cfg.Peer) {
		case Won:
			return nil, e.decide(d.Round, true, false), nil
		case Lost:
			return nil, e.decide(d.Round, false, false), nil
		}
		// That round was a tie; the current one is still open.
		return nil, nil, nil
	}

	if d.Round > e.round {
		if reply, err = e.redraw(d.Round); err != nil {
			return nil, nil, err
		}
	}
	switch Decide(e.local, d.Value, e.cfg.Self, e.cfg.Peer) {
	case Won:
		return reply, e.decide(e.round, true, false), nil
	case Lost:
		return reply, e.decide(e.round, false, false), nil
	}
	if e.round+1 >= e.cfg.MaxRounds {
		e.log.Warn().Uint64("epoch", e.epoch).Msg("election unresolved")
		return nil, nil, ErrNoResolution
	}
	next, err := e.redraw(e.round + 1)
	return next, nil, err
}

// Timeout is called when the peer's draw for the current round did not arrive
// in time. It draws again at the next round, and once the rounds are exhausted
// returns the current draw again. A timeout never decides the epoch: only a
// peer that left, reported through PeerClosed, yields a fallback.
func (e *Engine) Timeout() (*Draw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.decided {
		return nil, nil
	}
	if e.round+1 >= e.cfg.MaxRounds {
		return &Draw{Epoch: e.epoch, Round: e.round, Value: e.local}, nil
	}
	return e.redraw(e.round + 1)
}

// PeerClosed takes authority if the peer left before the epoch was decided.
func (e *Engine) PeerClosed() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decided {
		r := e.result
		return &r
	}
	return e.decide(e.round, true, true)
}

func (e *Engine) decide(round uint32, authority, fallback bool) *Result {
	e.decided = true
	e.result = Result{Epoch: e.epoch, Round: round, Authority: authority, Fallback: fallback}
	e.log.Info().
		Uint64("epoch", e.epoch).
		Uint32("round", round).
		Bool("authority", authority).
		Bool("fallback", fallback).
		Msg("election decided")
	r := e.result
	return &r
}

// Authority reports whether the local side is authoritative. It is false
// until the current epoch is decided.
func (e *Engine) Authority() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decided && e.result.Authority
}

// State returns a snapshot of the election.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Started:   e.started,
		Epoch:     e.epoch,
		Round:     e.round,
		LocalDraw: e.local,
		RemoteMax: e.remoteMax,
		Decided:   e.decided,
		Result:    e.result,
	}
}

// Reset forgets the current election, as at the end of a match.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	e.decided = false
	e.epoch, e.round, e.local, e.remoteMax = 0, 0, 0, 0
	e.draws = nil
	e.result = Result{}
}
