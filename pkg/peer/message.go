// Package peer implements the message protocol spoken between the two players
// of a session.
package peer

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/taurusgroup/p2p-wager/pkg/election"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
)

// Type tags a message in its envelope.
type Type string

const (
	TypeInitialState   Type = "initialState"
	TypeStartGame      Type = "startGame"
	TypeEndGame        Type = "endGame"
	TypeUpdatePosition Type = "updatePosition"
	TypeDetermineHost  Type = "determineHost"
	TypeSendCash       Type = "sendCash"
	TypeLockStake      Type = "lockStake"
)

// ErrUnknownType is returned for envelopes with a type outside the protocol.
var ErrUnknownType = errors.New("peer: unknown message type")

// Message is one of the protocol messages. The set is closed: only types of
// this package implement it.
type Message interface {
	Type() Type
	validate() error
}

// InitialState introduces a player. Only public keys are ever sent.
type InitialState struct {
	Npub      string `cbor:"npub"`
	Name      string `cbor:"name,omitempty"`
	PicURL    string `cbor:"picUrl,omitempty"`
	HiddenKey string `cbor:"hiddenKey"`
}

// StartGame starts a match and the authority election of its epoch.
type StartGame struct {
	Epoch uint64 `cbor:"epoch"`
}

// EndGame announces the result of a match. Winner is the winner's npub.
type EndGame struct {
	MatchID string `cbor:"matchId"`
	Winner  string `cbor:"winner"`
}

// UpdatePosition carries a player's latest state. Later updates overwrite earlier ones.
type UpdatePosition struct {
	Npub string  `cbor:"npub"`
	Y    float64 `cbor:"y"`
}

// DetermineHost carries an election draw.
type DetermineHost election.Draw

// SendCash transfers a serialized token.
type SendCash struct {
	Token string `cbor:"token"`
}

// LockStake hands over a stake token locked to the receiver and the arbiter.
type LockStake struct {
	MatchID string `cbor:"matchId"`
	Token   string `cbor:"token"`
}

func (*InitialState) Type() Type   { return TypeInitialState }
func (*StartGame) Type() Type      { return TypeStartGame }
func (*EndGame) Type() Type        { return TypeEndGame }
func (*UpdatePosition) Type() Type { return TypeUpdatePosition }
func (*DetermineHost) Type() Type  { return TypeDetermineHost }
func (*SendCash) Type() Type       { return TypeSendCash }
func (*LockStake) Type() Type      { return TypeLockStake }

func (m *InitialState) validate() error {
	if m.Npub == "" || m.HiddenKey == "" {
		return errors.New("missing npub or hidden key")
	}
	return nil
}

func (*StartGame) validate() error { return nil }

func (m *EndGame) validate() error {
	if m.MatchID == "" || m.Winner == "" {
		return errors.New("missing match id or winner")
	}
	return nil
}

func (m *UpdatePosition) validate() error {
	if m.Npub == "" {
		return errors.New("missing npub")
	}
	return nil
}

func (m *DetermineHost) validate() error {
	if m.Value < 0 || m.Value >= 1 {
		return fmt.Errorf("draw %v outside [0,1)", m.Value)
	}
	return nil
}

func (m *SendCash) validate() error {
	if m.Token == "" {
		return errors.New("empty token")
	}
	return nil
}

func (m *LockStake) validate() error {
	if m.MatchID == "" || m.Token == "" {
		return errors.New("missing match id or token")
	}
	return nil
}

type envelope struct {
	Type Type            `cbor:"type"`
	Data cbor.RawMessage `cbor:"data"`
}

// Encode wraps m in its envelope.
func Encode(m Message) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, protocol.Wrap(protocol.Protocol, "encode", err)
	}
	out, err := cbor.Marshal(envelope{Type: m.Type(), Data: data})
	if err != nil {
		return nil, protocol.Wrap(protocol.Protocol, "encode", err)
	}
	return out, nil
}

// Decode parses an envelope into its message. Every error is a Protocol error.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, protocol.Wrap(protocol.Protocol, "decode", err)
	}
	var m Message
	switch env.Type {
	case TypeInitialState:
		m = &InitialState{}
	case TypeStartGame:
		m = &StartGame{}
	case TypeEndGame:
		m = &EndGame{}
	case TypeUpdatePosition:
		m = &UpdatePosition{}
	case TypeDetermineHost:
		m = &DetermineHost{}
	case TypeSendCash:
		m = &SendCash{}
	case TypeLockStake:
		m = &LockStake{}
	default:
		return nil, protocol.Error{Kind: protocol.Protocol, Op: "decode", Err: fmt.Errorf("%w %q", ErrUnknownType, env.Type)}
	}
	if len(env.Data) == 0 {
		return nil, protocol.Errorf(protocol.Protocol, "decode", "%s: no data", env.Type)
	}
	if err := cbor.Unmarshal(env.Data, m); err != nil {
		return nil, protocol.Errorf(protocol.Protocol, "decode", "%s: %v", env.Type, err)
	}
	if err := m.validate(); err != nil {
		return nil, protocol.Errorf(protocol.Protocol, "decode", "%s: %v", env.Type, err)
	}
	return m, nil
}
