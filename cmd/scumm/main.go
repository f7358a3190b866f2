// scumm runs a game session headless from its game.toml manifest.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/chazu/scumm/manifest"
	"github.com/chazu/scumm/resource"
	"github.com/chazu/scumm/savestate"
	"github.com/chazu/scumm/server"
	"github.com/chazu/scumm/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("scumm")

func main() {
	dir := flag.String("dir", ".", "Game directory (searched upwards for game.toml)")
	ticks := flag.Int("ticks", 0, "Run this many scheduler passes and exit (0 = run at the manifest tick rate until interrupted)")
	saveName := flag.String("save", "", "Save the session under this name when it ends")
	slot := flag.Int("slot", 0, "Save slot used by -save and -restore")
	restore := flag.Bool("restore", false, "Resume from the latest save in -slot instead of booting")
	profile := flag.Int("profile", 0, "Print the N most executed opcodes when the session ends")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: scumm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the game described by game.toml without graphics or sound.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  scumm -dir ./demo -ticks 600          # Run ten seconds of game time\n")
		fmt.Fprintf(os.Stderr, "  scumm -ticks 60 -save intro -slot 1   # Run, then save to slot 1\n")
		fmt.Fprintf(os.Stderr, "  scumm -restore -slot 1 -profile 10    # Resume slot 1, print hot opcodes\n")
	}
	flag.Parse()

	if err := run(*dir, *ticks, *saveName, *slot, *restore, *profile, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string, ticks int, saveName string, slot int, restore bool, profile int, verbose bool) error {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no %s found in %s or its parents", manifest.FileName, dir)
	}
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	commonlog.Configure(verbosity, m.LogPath())

	loader, err := resource.OpenSQLite(m.ResourcePath())
	if err != nil {
		return err
	}
	defer loader.Close()

	tbl, err := m.Table()
	if err != nil {
		return err
	}
	opts := m.Options()
	if profile > 0 {
		opts.Profiler = vm.NewProfiler()
	}
	session, err := vm.New(tbl, resource.NewManager(loader, m.Resources.CacheEntries), consoleHost{out: os.Stdout}, opts)
	if err != nil {
		return err
	}

	var store *savestate.Store
	if restore || saveName != "" {
		store, err = savestate.Open(m.SavePath())
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if restore {
		rec, err := store.Latest(slot)
		if err != nil {
			return err
		}
		if err := session.Restore(rec.State); err != nil {
			return fmt.Errorf("restore %s: %w", rec.ID, err)
		}
		fmt.Printf("Resumed %q from %s (tick %d)\n", rec.Name, rec.Created.Format("2006-01-02 15:04:05"), rec.State.Ticks)
	} else if _, err := session.StartScript(m.Game.BootScript, m.Game.BootArgs, 0); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var runErr error
	if ticks > 0 {
		for i := 0; i < ticks && runErr == nil && ctx.Err() == nil; i++ {
			runErr = session.Tick(ctx)
		}
		if ctx.Err() != nil {
			runErr = nil
		}
	} else {
		runErr = serve(ctx, m, session)
	}

	if profile > 0 {
		printProfile(os.Stdout, opts.Profiler, profile)
	}
	if runErr != nil {
		return runErr
	}

	if saveName != "" {
		st, err := session.Snapshot()
		if err != nil {
			return err
		}
		id, err := store.Save(slot, saveName, m.Game.Name, st)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %q to slot %d (%s)\n", saveName, slot, id)
	}
	return nil
}

// serve ticks the session on a worker until interrupted, exposing the
// health endpoint when the manifest names an address.
func serve(ctx context.Context, m *manifest.Manifest, session *vm.VM) error {
	w := server.NewWorker(session, m.Server.TickRate)
	defer w.Stop()

	if m.Server.Address != "" {
		srv := server.New()
		srv.Host(m.Game.Name, w)
		go func() {
			if err := srv.ListenAndServe(m.Server.Address); err != nil {
				log.Errorf("health endpoint: %v", err)
			}
		}()
		defer srv.Stop()
	}
	return w.Run(ctx)
}

// consoleHost prints message text and answers every other native call
// with zero.
type consoleHost struct {
	out io.Writer
}

func (h consoleHost) Call(c vm.NativeCall) (int32, error) {
	switch c.Op {
	case vm.NativePrint:
		fmt.Fprintf(h.out, "%s\n", c.Text)
	case vm.NativeDebug:
		log.Infof("debug: %s", c.Text)
	default:
		log.Debugf("%s %v", c.Op, c.Args)
	}
	return 0, nil
}

func printProfile(w io.Writer, p *vm.Profiler, n int) {
	stats := p.Stats()
	fmt.Fprintf(w, "%d instructions in %d scripts (%d hot)\n", stats.Instructions, stats.Scripts, stats.HotScripts)
	for _, oc := range p.TopOpcodes(n) {
		fmt.Fprintf(w, "  0x%02X %-24s %d\n", oc.Opcode, oc.Name, oc.Count)
	}
}
