// Package savestate persists interpreter snapshots: a canonical CBOR
// encoding of vm.State and a SQLite store of save slots.
package savestate

import (
	"errors"
	"fmt"

	"github.com/chazu/scumm/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("scumm.savestate")

// Magic tags every encoded save.
const Magic = "SCUMMSAV"

// FormatVersion is the envelope layout version.
const FormatVersion = 1

var (
	ErrBadMagic = errors.New("not a save file")
	ErrFormat   = errors.New("unsupported save format")
)

type envelope struct {
	Magic  string    `cbor:"1,keyasint"`
	Format int       `cbor:"2,keyasint"`
	Game   string    `cbor:"3,keyasint"`
	State  *vm.State `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("savestate: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode serializes st for game. Equal states encode to equal bytes.
func Encode(game string, st *vm.State) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("savestate: nil state")
	}
	return encMode.Marshal(envelope{Magic: Magic, Format: FormatVersion, Game: game, State: st})
}

// Decode parses a save produced by Encode and returns the game name and
// state.
func Decode(data []byte) (string, *vm.State, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("savestate: unmarshal: %w", err)
	}
	if env.Magic != Magic {
		return "", nil, ErrBadMagic
	}
	if env.Format != FormatVersion {
		return "", nil, fmt.Errorf("%w: version %d", ErrFormat, env.Format)
	}
	if env.State == nil {
		return "", nil, fmt.Errorf("%w: missing state", ErrFormat)
	}
	return env.Game, env.State, nil
}
