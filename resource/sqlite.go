package resource

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/chazu/scumm/vm"
	_ "modernc.org/sqlite"
)

// SQLiteLoader reads and writes script tables in a SQLite database.
type SQLiteLoader struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scripts (
		origin TEXT NOT NULL,
		room INTEGER NOT NULL DEFAULT 0,
		id INTEGER NOT NULL,
		base INTEGER NOT NULL DEFAULT 0,
		code BLOB NOT NULL,
		PRIMARY KEY (origin, room, id)
	)`,
	`CREATE TABLE IF NOT EXISTS objects (
		obj INTEGER NOT NULL,
		verb INTEGER NOT NULL,
		origin TEXT NOT NULL,
		room INTEGER NOT NULL DEFAULT 0,
		entry INTEGER NOT NULL,
		PRIMARY KEY (obj, verb)
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room INTEGER PRIMARY KEY,
		has_scripts INTEGER NOT NULL DEFAULT 0
	)`,
}

// OpenSQLite opens an existing resource database.
func OpenSQLite(path string) (*SQLiteLoader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to resource database: %w", err)
	}
	return &SQLiteLoader{db: db}, nil
}

// CreateSQLite opens path, creating the database and its tables if needed.
func CreateSQLite(path string) (*SQLiteLoader, error) {
	l, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := l.Create(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Create initialises the schema.
func (l *SQLiteLoader) Create() error {
	for _, query := range schema {
		if _, err := l.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create resource tables: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (l *SQLiteLoader) Close() error {
	return l.db.Close()
}

func (l *SQLiteLoader) Script(key vm.CodeKey) ([]byte, uint32, error) {
	var code []byte
	var base uint32
	err := l.db.QueryRow(
		`SELECT code, base FROM scripts WHERE origin = ? AND room = ? AND id = ?`,
		key.Origin.String(), key.Room, key.ID,
	).Scan(&code, &base)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: script %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read script %s: %w", key, err)
	}
	return code, base, nil
}

func (l *SQLiteLoader) Object(obj, verb uint16) (vm.CodeKey, uint32, error) {
	var origin string
	var room uint16
	var entry uint32
	err := l.db.QueryRow(
		`SELECT origin, room, entry FROM objects WHERE obj = ? AND verb = ?`,
		obj, verb,
	).Scan(&origin, &room, &entry)
	if errors.Is(err, sql.ErrNoRows) {
		return vm.CodeKey{}, 0, fmt.Errorf("%w: object %d verb %d", ErrNotFound, obj, verb)
	}
	if err != nil {
		return vm.CodeKey{}, 0, fmt.Errorf("failed to read object %d verb %d: %w", obj, verb, err)
	}
	o, err := vm.ParseOrigin(origin)
	if err != nil {
		return vm.CodeKey{}, 0, fmt.Errorf("object %d verb %d: %w", obj, verb, err)
	}
	return vm.CodeKey{Origin: o, Room: room, ID: obj}, entry, nil
}

func (l *SQLiteLoader) Room(room uint16) (bool, error) {
	var has bool
	err := l.db.QueryRow(`SELECT has_scripts FROM rooms WHERE room = ?`, room).Scan(&has)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: room %d", ErrNotFound, room)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read room %d: %w", room, err)
	}
	return has, nil
}

func (l *SQLiteLoader) PutScript(key vm.CodeKey, code []byte, base uint32) error {
	if int(base) > len(code) {
		return fmt.Errorf("script %s: base %d beyond %d bytes", key, base, len(code))
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO scripts (origin, room, id, base, code) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (origin, room, id) DO UPDATE SET base = excluded.base, code = excluded.code
	`, key.Origin.String(), key.Room, key.ID, base, code)
	if err != nil {
		return fmt.Errorf("failed to write script %s: %w", key, err)
	}
	if key.Room != 0 {
		if err := putRoom(tx, key.Room, key.Origin == vm.OriginLocal); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (l *SQLiteLoader) PutObject(obj, verb uint16, key vm.CodeKey, entry uint32) error {
	if !key.Origin.IsObject() {
		return fmt.Errorf("object %d verb %d: %s is not an object origin", obj, verb, key.Origin)
	}
	_, err := l.db.Exec(`
		INSERT INTO objects (obj, verb, origin, room, entry) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (obj, verb) DO UPDATE SET origin = excluded.origin, room = excluded.room, entry = excluded.entry
	`, obj, verb, key.Origin.String(), key.Room, entry)
	if err != nil {
		return fmt.Errorf("failed to write object %d verb %d: %w", obj, verb, err)
	}
	return nil
}

func (l *SQLiteLoader) PutRoom(room uint16, hasScripts bool) error {
	return putRoom(l.db, room, hasScripts)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putRoom(db execer, room uint16, hasScripts bool) error {
	_, err := db.Exec(`
		INSERT INTO rooms (room, has_scripts) VALUES (?, ?)
		ON CONFLICT (room) DO UPDATE SET has_scripts = MAX(has_scripts, excluded.has_scripts)
	`, room, hasScripts)
	if err != nil {
		return fmt.Errorf("failed to write room %d: %w", room, err)
	}
	return nil
}
