package session

import (
	"fmt"

	"github.com/backkem/yubihsm/pkg/securechannel"
	"github.com/backkem/yubihsm/pkg/transport"
)

// State is the lifecycle state of a Connection.
//
// State transitions:
//
//	Closed -> TransportOpen -> ChannelEstablished -> Authenticated
//
// Any failure returns to TransportOpen when the adapter is still healthy,
// or to Closed when it is not.
type State int

const (
	// StateClosed has neither adapter nor channel.
	StateClosed State = iota

	// StateTransportOpen has a health-checked adapter and no channel.
	StateTransportOpen

	// StateChannelEstablished has a channel whose card cryptogram was
	// verified but which is not yet authenticated.
	StateChannelEstablished

	// StateAuthenticated has an active channel ready for commands.
	StateAuthenticated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateTransportOpen:
		return "TransportOpen"
	case StateChannelEstablished:
		return "ChannelEstablished"
	case StateAuthenticated:
		return "Authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsValid returns true if this is a known state.
func (s State) IsValid() bool {
	return s >= StateClosed && s <= StateAuthenticated
}

// connState is the tagged connection state. Each variant holds exactly
// the resources valid in that state, so a channel without an adapter
// cannot be represented.
type connState interface {
	state() State
}

type closedState struct{}

type transportOpenState struct {
	adapter transport.Adapter
}

type channelEstablishedState struct {
	adapter transport.Adapter
	channel *securechannel.Channel
}

type authenticatedState struct {
	adapter transport.Adapter
	channel *securechannel.Channel
}

func (closedState) state() State             { return StateClosed }
func (transportOpenState) state() State      { return StateTransportOpen }
func (channelEstablishedState) state() State { return StateChannelEstablished }
func (authenticatedState) state() State      { return StateAuthenticated }
