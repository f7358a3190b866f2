package savestate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/scumm/vm"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no save matches.
var ErrNotFound = errors.New("save not found")

// Info describes one stored save without its state.
type Info struct {
	ID      string
	Slot    int
	Name    string
	Game    string
	Created time.Time
}

// Record is a stored save with its decoded state.
type Record struct {
	Info
	State *vm.State
}

// Store keeps saves in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the save database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open save database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to save database: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS saves (
		id TEXT PRIMARY KEY,
		slot INTEGER NOT NULL,
		name TEXT NOT NULL,
		created INTEGER NOT NULL,
		game TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create saves table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores st under slot and returns the new save id.
func (s *Store) Save(slot int, name, game string, st *vm.State) (string, error) {
	data, err := Encode(game, st)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO saves (id, slot, name, created, game, data) VALUES (?, ?, ?, ?, ?, ?)`,
		id, slot, name, s.now().UnixNano(), game, data,
	)
	if err != nil {
		return "", fmt.Errorf("failed to write save: %w", err)
	}
	log.Infof("saved %q to slot %d at tick %d (%s)", name, slot, st.Ticks, id)
	return id, nil
}

// Load returns the save with the given id.
func (s *Store) Load(id string) (*Record, error) {
	row := s.db.QueryRow(`SELECT id, slot, name, created, game, data FROM saves WHERE id = ?`, id)
	return scanRecord(row, id)
}

// Latest returns the most recent save in slot.
func (s *Store) Latest(slot int) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, slot, name, created, game, data FROM saves
		WHERE slot = ? ORDER BY created DESC, rowid DESC LIMIT 1
	`, slot)
	return scanRecord(row, fmt.Sprintf("slot %d", slot))
}

// List returns every save, newest first.
func (s *Store) List() ([]Info, error) {
	rows, err := s.db.Query(`SELECT id, slot, name, created, game FROM saves ORDER BY created DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var created int64
		if err := rows.Scan(&info.ID, &info.Slot, &info.Name, &created, &info.Game); err != nil {
			return nil, fmt.Errorf("failed to read save row: %w", err)
		}
		info.Created = time.Unix(0, created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a save.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM saves WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete save %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func scanRecord(row *sql.Row, what string) (*Record, error) {
	var r Record
	var created int64
	var data []byte
	err := row.Scan(&r.ID, &r.Slot, &r.Name, &created, &r.Game, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read save %s: %w", what, err)
	}
	r.Created = time.Unix(0, created)

	game, st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", r.ID, err)
	}
	if game != r.Game {
		return nil, fmt.Errorf("save %s: %w: encoded for %q, stored as %q", r.ID, ErrFormat, game, r.Game)
	}
	r.State = st
	return &r, nil
}
