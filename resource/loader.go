// Package resource serves script code to the VM from a generation-counted
// cache layered over a pluggable loader.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/scumm/vm"
)

// ErrNotFound is returned by loaders for absent scripts, rooms and verbs.
var ErrNotFound = errors.New("resource not found")

// Loader reads raw script tables from backing storage.
type Loader interface {
	// Script returns the code of key. Offsets recorded in slots are
	// relative to base.
	Script(key vm.CodeKey) (code []byte, base uint32, err error)

	// Object locates the code and entry offset of one object verb.
	Object(obj, verb uint16) (key vm.CodeKey, entry uint32, err error)

	// Room reports whether room carries a local script table.
	Room(room uint16) (hasScripts bool, err error)
}

// Writer stores script tables. The assembler CLI writes through it.
type Writer interface {
	PutScript(key vm.CodeKey, code []byte, base uint32) error
	PutObject(obj, verb uint16, key vm.CodeKey, entry uint32) error
	PutRoom(room uint16, hasScripts bool) error
}

type scriptRow struct {
	code []byte
	base uint32
}

type objectRow struct {
	key   vm.CodeKey
	entry uint32
}

// MapLoader keeps all tables in memory.
type MapLoader struct {
	mu      sync.RWMutex
	scripts map[vm.CodeKey]scriptRow
	objects map[[2]uint16]objectRow
	rooms   map[uint16]bool
}

// NewMapLoader returns an empty in-memory loader.
func NewMapLoader() *MapLoader {
	return &MapLoader{
		scripts: make(map[vm.CodeKey]scriptRow),
		objects: make(map[[2]uint16]objectRow),
		rooms:   make(map[uint16]bool),
	}
}

func (m *MapLoader) Script(key vm.CodeKey) ([]byte, uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.scripts[key]
	if !ok {
		return nil, 0, fmt.Errorf("%w: script %s", ErrNotFound, key)
	}
	return row.code, row.base, nil
}

func (m *MapLoader) Object(obj, verb uint16) (vm.CodeKey, uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.objects[[2]uint16{obj, verb}]
	if !ok {
		return vm.CodeKey{}, 0, fmt.Errorf("%w: object %d verb %d", ErrNotFound, obj, verb)
	}
	return row.key, row.entry, nil
}

func (m *MapLoader) Room(room uint16) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	has, ok := m.rooms[room]
	if !ok {
		return false, fmt.Errorf("%w: room %d", ErrNotFound, room)
	}
	return has, nil
}

func (m *MapLoader) PutScript(key vm.CodeKey, code []byte, base uint32) error {
	if int(base) > len(code) {
		return fmt.Errorf("script %s: base %d beyond %d bytes", key, base, len(code))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[key] = scriptRow{code: append([]byte(nil), code...), base: base}
	if key.Origin == vm.OriginLocal {
		m.rooms[key.Room] = true
	} else if key.Room != 0 {
		if _, ok := m.rooms[key.Room]; !ok {
			m.rooms[key.Room] = false
		}
	}
	return nil
}

func (m *MapLoader) PutObject(obj, verb uint16, key vm.CodeKey, entry uint32) error {
	if !key.Origin.IsObject() {
		return fmt.Errorf("object %d verb %d: %s is not an object origin", obj, verb, key.Origin)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key.ID = obj
	m.objects[[2]uint16{obj, verb}] = objectRow{key: key, entry: entry}
	return nil
}

func (m *MapLoader) PutRoom(room uint16, hasScripts bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room] = m.rooms[room] || hasScripts
	return nil
}
