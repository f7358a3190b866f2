package vm

import "fmt"

// Origin names the logical table a script's code is resolved from.
type Origin uint8

const (
	OriginNone Origin = iota
	OriginGlobal
	OriginLocal
	OriginRoomObject
	OriginInventory
	OriginFloatingObject
)

var originNames = [...]string{"none", "global", "local", "room-object", "inventory", "floating-object"}

func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("origin(%d)", uint8(o))
}

// ParseOrigin is the inverse of Origin.String.
func ParseOrigin(s string) (Origin, error) {
	for i, name := range originNames {
		if name == s {
			return Origin(i), nil
		}
	}
	return OriginNone, fmt.Errorf("unknown origin %q", s)
}

// IsObject reports whether code of this origin belongs to an object verb.
func (o Origin) IsObject() bool {
	return o == OriginRoomObject || o == OriginInventory || o == OriginFloatingObject
}

// RoomScoped reports whether slots of this origin die when the room changes.
func (o Origin) RoomScoped() bool {
	return o == OriginLocal || o == OriginRoomObject || o == OriginFloatingObject
}

// CodeKey is the stable logical handle of one code blob.
type CodeKey struct {
	Origin Origin
	Room   uint16
	ID     uint16
}

func (k CodeKey) String() string {
	if k.Room != 0 {
		return fmt.Sprintf("%s:%d/%d", k.Origin, k.Room, k.ID)
	}
	return fmt.Sprintf("%s:%d", k.Origin, k.ID)
}

// CodeBlob is the materialised code for a key. Slot offsets are relative
// to Base. Gen changes whenever the provider moves or reloads the bytes.
type CodeBlob struct {
	Bytes []byte
	Base  uint32
	Gen   uint64
}

// ObjectEntry locates the code of one object verb.
type ObjectEntry struct {
	Key   CodeKey
	Entry uint32
}

// ResourceKind selects the resource class of a resource-management opcode.
type ResourceKind uint8

const (
	ResScript ResourceKind = iota + 1
	ResSound
	ResCostume
	ResRoom
	ResCharset
	ResObject
)

var resourceKindNames = [...]string{"", "script", "sound", "costume", "room", "charset", "object"}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) && k != 0 {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("resource(%d)", uint8(k))
}

// ResourceOp is the action requested by a resource-management opcode.
type ResourceOp uint8

const (
	ResLoad ResourceOp = iota + 1
	ResNuke
	ResLock
	ResUnlock
	ResClearHeap
)

var resourceOpNames = [...]string{"", "load", "nuke", "lock", "unlock", "clear-heap"}

func (op ResourceOp) String() string {
	if int(op) < len(resourceOpNames) && op != 0 {
		return resourceOpNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ResourceProvider supplies code blobs to the VM and receives the
// resource-management requests issued by scripts.
//
// Code is called whenever the VM's cached generation for a key no longer
// matches Generation, so implementations are free to move or evict blobs
// between fetches. A Code error for an OriginLocal key should wrap
// ErrNoRoomScripts when the room has no local script table.
type ResourceProvider interface {
	Code(key CodeKey) (CodeBlob, error)
	Generation(key CodeKey) uint64
	Object(obj, verb uint16) (ObjectEntry, bool, error)
	LoadRoom(room uint16) error
	Resource(op ResourceOp, kind ResourceKind, id int32) error
}
