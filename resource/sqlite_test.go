package resource

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/scumm/vm"
)

func newSQLite(t *testing.T) *SQLiteLoader {
	t.Helper()
	l, err := CreateSQLite(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatalf("CreateSQLite: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteScripts(t *testing.T) {
	l := newSQLite(t)
	key := vm.CodeKey{Origin: vm.OriginLocal, Room: 4, ID: 210}

	if err := l.PutScript(key, []byte{0xAA, 0x65}, 1); err != nil {
		t.Fatalf("PutScript: %v", err)
	}
	if err := l.PutScript(key, []byte{0xBB, 0x6C, 0x65}, 1); err != nil {
		t.Fatalf("PutScript overwrite: %v", err)
	}
	code, base, err := l.Script(key)
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if !bytes.Equal(code, []byte{0xBB, 0x6C, 0x65}) || base != 1 {
		t.Errorf("Script = % X base %d", code, base)
	}

	has, err := l.Room(4)
	if err != nil || !has {
		t.Errorf("Room(4) = %v, %v; want true", has, err)
	}
	if _, err := l.Room(5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Room(5): got %v, want ErrNotFound", err)
	}
	if _, _, err := l.Script(vm.CodeKey{Origin: vm.OriginGlobal, ID: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing script: got %v, want ErrNotFound", err)
	}
	if err := l.PutScript(key, []byte{0x65}, 4); err == nil {
		t.Error("base beyond the code was accepted")
	}
}

func TestSQLiteRoomsOnlyGainScripts(t *testing.T) {
	l := newSQLite(t)
	if err := l.PutRoom(2, true); err != nil {
		t.Fatalf("PutRoom: %v", err)
	}
	if err := l.PutRoom(2, false); err != nil {
		t.Fatalf("PutRoom: %v", err)
	}
	if has, _ := l.Room(2); !has {
		t.Error("room 2 lost its script table")
	}
}

func TestSQLiteObjects(t *testing.T) {
	l := newSQLite(t)
	key := vm.CodeKey{Origin: vm.OriginRoomObject, Room: 6, ID: 410}
	if err := l.PutObject(410, 1, key, 12); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got, entry, err := l.Object(410, 1)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if got != key || entry != 12 {
		t.Errorf("Object = %s entry %d, want %s entry 12", got, entry, key)
	}
	if _, _, err := l.Object(410, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing verb: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteBackedSession(t *testing.T) {
	l := newSQLite(t)
	b := vm.NewBuilder()
	b.Byte(0x01).Word(1234).Byte(0x43).Var(20)
	b.Byte(0x65)
	if err := l.PutScript(vm.CodeKey{Origin: vm.OriginGlobal, ID: 1}, b.Bytes(), 0); err != nil {
		t.Fatalf("PutScript: %v", err)
	}

	sess := newSession(t, NewManager(l, 8))
	if err := sess.RunScript(1, nil, 0); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if v, _ := sess.Global(20); v != 1234 {
		t.Errorf("g20 = %d, want 1234", v)
	}
}
