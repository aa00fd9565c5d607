package frame

import (
	"fmt"
	"net/netip"
)

// Command tags.
const (
	CmdLocationSet            = "locationSet"
	CmdGameReset              = "GameReset"
	CmdSyncGame               = "SyncGame"
	CmdConnected              = "connected"
	CmdMasterPeer             = "MasterPeer"
	CmdRetrieveHighScore      = "RetrieveHighScore"
	CmdUpdateHighScore        = "UpdateHighScore"
	CmdServerSet              = "ServerSet"
	CmdStartGameSlave         = "startGameSlave"
	CmdMasterPeerNotConnected = "MasterPeerNotConnected"
	CmdNoHighscoreFound       = "NoHighscoreFound"
	CmdHighscoreFound         = "HighscoreFound"
	CmdStartGame              = "StartGame"
)

// Message is one decoded protocol message. The set of implementations is
// closed; dispatch on it with a type switch.
type Message interface {
	// Command returns the command tag of the message.
	Command() string
	// Encode returns the exact wire form.
	Encode() string

	message()
}

// LocationSet moves the sender's paddle on the receiving side.
type LocationSet struct {
	X, Y float64
}

// GameReset asks the slave to reset and start the ball with (VX, VY).
type GameReset struct {
	VX, VY float64
}

// SyncGame is reserved for periodic resync and carries no arguments.
type SyncGame struct{}

// Connected announces that the slave is ready.
type Connected struct{}

// MasterPeer registers a master/slave pairing with the directory host. Its
// command tag is the last field rather than the first.
type MasterPeer struct {
	Master netip.Addr
	Peer   netip.Addr
}

// RetrieveHighScore asks the directory host for the highscore table.
type RetrieveHighScore struct{}

// UpdateHighScore replaces the table held by the directory host.
type UpdateHighScore struct {
	Table HighscoreTable
}

// ServerSet acknowledges a MasterPeer registration.
type ServerSet struct{}

// StartGameSlave tells a polling slave that its master has registered.
type StartGameSlave struct{}

// MasterPeerNotConnected tells a polling slave to try again.
type MasterPeerNotConnected struct{}

// Highscores is the directory host's reply to a highscore request. Found is
// false when the host had no table and answered with its default.
type Highscores struct {
	Found bool
	Table HighscoreTable
}

func (LocationSet) Command() string            { return CmdLocationSet }
func (GameReset) Command() string              { return CmdGameReset }
func (SyncGame) Command() string               { return CmdSyncGame }
func (Connected) Command() string              { return CmdConnected }
func (MasterPeer) Command() string             { return CmdMasterPeer }
func (RetrieveHighScore) Command() string      { return CmdRetrieveHighScore }
func (UpdateHighScore) Command() string        { return CmdUpdateHighScore }
func (ServerSet) Command() string              { return CmdServerSet }
func (StartGameSlave) Command() string         { return CmdStartGameSlave }
func (MasterPeerNotConnected) Command() string { return CmdMasterPeerNotConnected }

func (m Highscores) Command() string {
	if m.Found {
		return CmdHighscoreFound
	}
	return CmdNoHighscoreFound
}

func (m LocationSet) Encode() string {
	return Encode(CmdLocationSet, FormatFloat(m.X), FormatFloat(m.Y))
}

func (m GameReset) Encode() string {
	return Encode(CmdGameReset, FormatFloat(m.VX), FormatFloat(m.VY))
}

func (SyncGame) Encode() string               { return CmdSyncGame }
func (Connected) Encode() string              { return CmdConnected }
func (RetrieveHighScore) Encode() string      { return CmdRetrieveHighScore }
func (ServerSet) Encode() string              { return CmdServerSet }
func (StartGameSlave) Encode() string         { return CmdStartGameSlave }
func (MasterPeerNotConnected) Encode() string { return CmdMasterPeerNotConnected }

func (m MasterPeer) Encode() string {
	return Encode(m.Master.String(), m.Peer.String(), CmdMasterPeer)
}

func (m UpdateHighScore) Encode() string {
	return Encode(CmdUpdateHighScore, m.Table.Fields()...)
}

func (m Highscores) Encode() string {
	return Encode(m.Command(), m.Table.Fields()...)
}

func (LocationSet) message()            {}
func (GameReset) message()              {}
func (SyncGame) message()               {}
func (Connected) message()              {}
func (MasterPeer) message()             {}
func (RetrieveHighScore) message()      {}
func (UpdateHighScore) message()        {}
func (ServerSet) message()              {}
func (StartGameSlave) message()         {}
func (MasterPeerNotConnected) message() {}
func (Highscores) message()             {}

// Parse decodes payload into its typed message.
func Parse(payload string) (Message, error) {
	if payload == "" {
		return nil, ErrEmpty
	}
	fields := Decode(payload, Delimiter)

	switch fields[0] {
	case CmdLocationSet:
		x, err := parseFloat(fields, 1, "x")
		if err != nil {
			return nil, err
		}
		y, err := parseFloat(fields, 2, "y")
		if err != nil {
			return nil, err
		}
		return LocationSet{X: x, Y: y}, nil

	case CmdGameReset:
		vx, err := parseFloat(fields, 1, "vx")
		if err != nil {
			return nil, err
		}
		vy, err := parseFloat(fields, 2, "vy")
		if err != nil {
			return nil, err
		}
		return GameReset{VX: vx, VY: vy}, nil

	case CmdSyncGame:
		return SyncGame{}, nil

	case CmdRetrieveHighScore:
		return RetrieveHighScore{}, nil

	case CmdUpdateHighScore:
		return UpdateHighScore{Table: ParseHighscores(fields)}, nil

	case CmdServerSet:
		return ServerSet{}, nil

	case CmdStartGameSlave:
		return StartGameSlave{}, nil

	case CmdMasterPeerNotConnected:
		return MasterPeerNotConnected{}, nil

	case CmdNoHighscoreFound, CmdHighscoreFound:
		t := ParseHighscores(fields)
		t.Sort()
		return Highscores{Found: fields[0] == CmdHighscoreFound, Table: t}, nil
	}

	// connected is matched on the whole payload, not the tag.
	if payload == CmdConnected {
		return Connected{}, nil
	}

	if len(fields) == 3 && fields[2] == CmdMasterPeer {
		master, err := netip.ParseAddr(fields[0])
		if err != nil {
			return nil, &FieldError{Field: "master", Index: 0, Value: fields[0], Err: ErrMalformed}
		}
		p, err := netip.ParseAddr(fields[1])
		if err != nil {
			return nil, &FieldError{Field: "peer", Index: 1, Value: fields[1], Err: ErrMalformed}
		}
		return MasterPeer{Master: master, Peer: p}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}
