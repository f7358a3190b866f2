package resource

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/scumm/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("scumm.resource")

// DefaultCacheEntries bounds the code cache when no capacity is given.
const DefaultCacheEntries = 64

// ---------------------------------------------------------------------------
// Manager: generation-counted code cache
// ---------------------------------------------------------------------------

type resKey struct {
	kind vm.ResourceKind
	id   int32
}

type cacheEntry struct {
	key  vm.CodeKey
	blob vm.CodeBlob
}

// Stats counts cache traffic.
type Stats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Relocations uint64
}

// Manager implements vm.ResourceProvider over a Loader. Materialised blobs
// live in an LRU cache; every materialisation or relocation gets a fresh
// generation number, and an evicted key reports generation 0.
type Manager struct {
	mu       sync.Mutex
	loader   Loader
	capacity int

	lru     *list.List
	entries map[vm.CodeKey]*list.Element
	nextGen uint64

	locks  map[resKey]int
	loaded map[resKey]bool
	room   uint16
	stats  Stats
}

var _ vm.ResourceProvider = (*Manager)(nil)

// NewManager creates a cache of at most capacity unlocked blobs.
func NewManager(loader Loader, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	return &Manager{
		loader:   loader,
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[vm.CodeKey]*list.Element),
		locks:    make(map[resKey]int),
		loaded:   make(map[resKey]bool),
	}
}

// Code returns the blob for key, materialising it on a miss.
func (m *Manager) Code(key vm.CodeKey) (vm.CodeBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetch(key)
}

// Generation reports the generation of the cached blob, or 0 if key is
// not resident.
func (m *Manager) Generation(key vm.CodeKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		return el.Value.(*cacheEntry).blob.Gen
	}
	return 0
}

// Object resolves an object verb. A missing verb is not an error.
func (m *Manager) Object(obj, verb uint16) (vm.ObjectEntry, bool, error) {
	key, entry, err := m.loader.Object(obj, verb)
	if errors.Is(err, ErrNotFound) {
		return vm.ObjectEntry{}, false, nil
	}
	if err != nil {
		return vm.ObjectEntry{}, false, err
	}
	return vm.ObjectEntry{Key: key, Entry: entry}, true, nil
}

// LoadRoom makes room current and drops unlocked room-scoped code of
// every other room.
func (m *Manager) LoadRoom(room uint16) error {
	if _, err := m.loader.Room(room); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		log.Warningf("room %d has no resource entry", room)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = room
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if e.key.Origin.RoomScoped() && e.key.Room != room && !m.locked(e.key) {
			m.remove(el)
		}
		el = next
	}
	m.loaded[resKey{vm.ResRoom, int32(room)}] = true
	log.Debugf("room %d loaded, %d blobs cached", room, m.lru.Len())
	return nil
}

// Resource applies a resource-management request from a script.
func (m *Manager) Resource(op vm.ResourceOp, kind vm.ResourceKind, id int32) error {
	if id < 0 && op != vm.ResClearHeap {
		return fmt.Errorf("%s %s: negative id %d", op, kind, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rk := resKey{kind, id}
	switch op {
	case vm.ResLoad:
		if kind == vm.ResScript {
			if _, err := m.fetchScript(uint16(id)); err != nil {
				return err
			}
		}
		m.loaded[rk] = true
	case vm.ResNuke:
		dropped := m.drop(kind, id)
		if !m.loaded[rk] && dropped == 0 {
			log.Warningf("nuke of absent %s %d ignored", kind, id)
			return nil
		}
		delete(m.loaded, rk)
		delete(m.locks, rk)
	case vm.ResLock:
		m.locks[rk]++
	case vm.ResUnlock:
		if m.locks[rk] == 0 {
			log.Warningf("unlock of unlocked %s %d ignored", kind, id)
			return nil
		}
		m.locks[rk]--
		if m.locks[rk] == 0 {
			delete(m.locks, rk)
		}
	case vm.ResClearHeap:
		for el := m.lru.Front(); el != nil; {
			next := el.Next()
			if !m.locked(el.Value.(*cacheEntry).key) {
				m.remove(el)
			}
			el = next
		}
		for k := range m.loaded {
			if m.locks[k] == 0 {
				delete(m.loaded, k)
			}
		}
	default:
		return fmt.Errorf("unknown resource operation %d", op)
	}
	log.Debugf("%s %s %d", op, kind, id)
	return nil
}

// Relocate moves the cached blob of key to new storage under a new
// generation, as heap compaction would.
func (m *Manager) Relocate(key vm.CodeKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s is not resident", ErrNotFound, key)
	}
	e := el.Value.(*cacheEntry)
	e.blob = vm.CodeBlob{
		Bytes: append([]byte(nil), e.blob.Bytes...),
		Base:  e.blob.Base,
		Gen:   m.bump(),
	}
	m.stats.Relocations++
	return nil
}

// Locked reports the lock count of a resource.
func (m *Manager) Locked(kind vm.ResourceKind, id int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[resKey{kind, id}]
}

// Loaded reports whether a resource was loaded and not yet nuked.
func (m *Manager) Loaded(kind vm.ResourceKind, id int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[resKey{kind, id}]
}

// Stats returns a copy of the cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = m.lru.Len()
	return s
}

// ---------------------------------------------------------------------------
// Cache internals (m.mu held)
// ---------------------------------------------------------------------------

func (m *Manager) fetch(key vm.CodeKey) (vm.CodeBlob, error) {
	if el, ok := m.entries[key]; ok {
		m.stats.Hits++
		m.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).blob, nil
	}
	m.stats.Misses++

	if key.Origin == vm.OriginLocal {
		has, err := m.loader.Room(key.Room)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return vm.CodeBlob{}, err
		}
		if !has {
			return vm.CodeBlob{}, fmt.Errorf("%w: room %d", vm.ErrNoRoomScripts, key.Room)
		}
	}
	code, base, err := m.loader.Script(key)
	if err != nil {
		return vm.CodeBlob{}, err
	}
	blob := vm.CodeBlob{
		Bytes: append([]byte(nil), code...),
		Base:  base,
		Gen:   m.bump(),
	}
	m.entries[key] = m.lru.PushFront(&cacheEntry{key: key, blob: blob})
	m.evict()
	log.Debugf("materialised %s (%d bytes, gen %d)", key, len(code), blob.Gen)
	return blob, nil
}

// fetchScript preloads script id, trying the global table before the
// current room's local table.
func (m *Manager) fetchScript(id uint16) (vm.CodeBlob, error) {
	blob, err := m.fetch(vm.CodeKey{Origin: vm.OriginGlobal, ID: id})
	if err == nil || !errors.Is(err, ErrNotFound) || m.room == 0 {
		return blob, err
	}
	return m.fetch(vm.CodeKey{Origin: vm.OriginLocal, Room: m.room, ID: id})
}

func (m *Manager) bump() uint64 {
	m.nextGen++
	return m.nextGen
}

func (m *Manager) locked(key vm.CodeKey) bool {
	kind := vm.ResScript
	if key.Origin.IsObject() {
		kind = vm.ResObject
	}
	return m.locks[resKey{kind, int32(key.ID)}] > 0
}

// evict drops least recently used unlocked blobs until the cache fits.
// The most recently used blob is never evicted, so locked blobs and the
// one just fetched may keep it over capacity.
func (m *Manager) evict() {
	front := m.lru.Front()
	for el := m.lru.Back(); el != nil && el != front && m.lru.Len() > m.capacity; {
		prev := el.Prev()
		if !m.locked(el.Value.(*cacheEntry).key) {
			m.remove(el)
		}
		el = prev
	}
}

func (m *Manager) remove(el *list.Element) {
	e := m.lru.Remove(el).(*cacheEntry)
	delete(m.entries, e.key)
	m.stats.Evictions++
}

// drop removes cached code belonging to a nuked resource.
func (m *Manager) drop(kind vm.ResourceKind, id int32) int {
	if kind != vm.ResScript && kind != vm.ResObject {
		return 0
	}
	n := 0
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if int32(e.key.ID) == id && e.key.Origin.IsObject() == (kind == vm.ResObject) {
			m.remove(el)
			n++
		}
		el = next
	}
	return n
}
