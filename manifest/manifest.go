// Package manifest handles game.toml session configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/chazu/scumm/vm"
)

// FileName is the manifest file looked up in a game directory.
const FileName = "game.toml"

//go:embed schema.cue
var schemaSource string

// Manifest represents a game.toml session configuration.
type Manifest struct {
	Game      Game      `toml:"game"`
	VM        VMConfig  `toml:"vm"`
	Resources Resources `toml:"resources"`
	Save      Save      `toml:"save"`
	Log       Log       `toml:"log"`
	Server    Server    `toml:"server"`

	// Dir is the directory containing the game.toml file (set at load time).
	Dir string `toml:"-"`
}

// Game names the game and its boot script.
type Game struct {
	Name       string  `toml:"name"`
	Generation string  `toml:"generation"`
	BootScript uint16  `toml:"boot-script"`
	BootArgs   []int32 `toml:"boot-args"`
}

// VMConfig sizes the interpreter. Zero fields take the engine defaults.
type VMConfig struct {
	Slots         int    `toml:"slots"`
	Globals       int    `toml:"globals"`
	BitVars       int    `toml:"bit-vars"`
	Arrays        int    `toml:"arrays"`
	Stack         int    `toml:"stack"`
	GlobalScripts int    `toml:"global-scripts"`
	Seed          uint64 `toml:"seed"`
}

// Resources locates the script database.
type Resources struct {
	Database     string `toml:"database"`
	CacheEntries int    `toml:"cache-entries"`
}

// Save locates the save-game database.
type Save struct {
	Database string `toml:"database"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Server configures the session worker and its health endpoint.
type Server struct {
	Address  string `toml:"address"`
	TickRate int    `toml:"tick-rate"`
}

// Load parses and validates the game.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text, checks it against the schema and fills
// defaults.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.applyDefaults()
	return &m, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Manifest"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	d := vm.DefaultOptions()
	if m.Game.Generation == "" {
		m.Game.Generation = "v6"
	}
	if m.Game.BootScript == 0 {
		m.Game.BootScript = 1
	}
	if m.VM.Slots == 0 {
		m.VM.Slots = d.Slots
	}
	if m.VM.Globals == 0 {
		m.VM.Globals = d.Globals
	}
	if m.VM.BitVars == 0 {
		m.VM.BitVars = d.BitVars
	}
	if m.VM.Arrays == 0 {
		m.VM.Arrays = d.Arrays
	}
	if m.VM.Stack == 0 {
		m.VM.Stack = d.Stack
	}
	if m.VM.GlobalScripts == 0 {
		m.VM.GlobalScripts = d.GlobalScripts
	}
	if m.VM.Seed == 0 {
		m.VM.Seed = d.Seed
	}
	if m.Resources.Database == "" {
		m.Resources.Database = "game.db"
	}
	if m.Resources.CacheEntries == 0 {
		m.Resources.CacheEntries = 64
	}
	if m.Save.Database == "" {
		m.Save.Database = "saves.db"
	}
	if m.Server.TickRate == 0 {
		m.Server.TickRate = 60
	}
}

// FindAndLoad walks up from startDir to find a game.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Table returns the instruction set named by the manifest.
func (m *Manifest) Table() (vm.OpcodeTable, error) {
	return vm.Table(m.Game.Generation)
}

// Options converts the [vm] table into interpreter options.
func (m *Manifest) Options() vm.Options {
	o := vm.DefaultOptions()
	o.Slots = m.VM.Slots
	o.Globals = m.VM.Globals
	o.BitVars = m.VM.BitVars
	o.Arrays = m.VM.Arrays
	o.Stack = m.VM.Stack
	o.GlobalScripts = m.VM.GlobalScripts
	o.Seed = m.VM.Seed
	return o
}

// ResourcePath returns the absolute path of the script database.
func (m *Manifest) ResourcePath() string { return m.resolve(m.Resources.Database) }

// SavePath returns the absolute path of the save database.
func (m *Manifest) SavePath() string { return m.resolve(m.Save.Database) }

// LogPath returns the log file path, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
