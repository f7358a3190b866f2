// scumm-asm assembles script source into a game's resource database.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/scumm/asm"
	"github.com/chazu/scumm/manifest"
	"github.com/chazu/scumm/resource"
	"github.com/chazu/scumm/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	gen := flag.String("gen", "", "Instruction set (v5 or v6; default from game.toml)")
	db := flag.String("db", "", "Resource database to install into (default from game.toml)")
	origin := flag.String("origin", "global", "Script origin: global, local, room-object, inventory, floating-object")
	room := flag.Uint("room", 0, "Room number for room-scoped origins")
	id := flag.Uint("id", 0, "Script or object number")
	disasm := flag.Bool("disasm", false, "Print the disassembly instead of installing")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: scumm-asm [options] <file.s>\n\n")
		fmt.Fprintf(os.Stderr, "Assembles a script and stores it in the resource database.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  scumm-asm -id 1 boot.s                          # Global script 1\n")
		fmt.Fprintf(os.Stderr, "  scumm-asm -origin local -room 3 -id 200 door.s  # Local script of room 3\n")
		fmt.Fprintf(os.Stderr, "  scumm-asm -origin room-object -room 3 -id 17 lamp.s\n")
		fmt.Fprintf(os.Stderr, "  scumm-asm -gen v5 -disasm test.s                # Check the encoding\n")
	}
	flag.Parse()

	if flag.NArg() != 1 || *id == 0 && !*disasm {
		flag.Usage()
		os.Exit(1)
	}
	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if err := run(flag.Arg(0), *gen, *db, *origin, uint16(*room), uint16(*id), *disasm); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, gen, db, originName string, room, id uint16, disasm bool) error {
	if gen == "" || db == "" && !disasm {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("no %s found; pass -gen and -db", manifest.FileName)
		}
		if gen == "" {
			gen = m.Game.Generation
		}
		if db == "" {
			db = m.ResourcePath()
		}
	}

	table, err := vm.Table(gen)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := asm.AssembleTable(table, path, string(src))
	if err != nil {
		return err
	}

	if disasm {
		text, err := vm.Disassemble(table, prog.Code)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	origin, err := vm.ParseOrigin(originName)
	if err != nil {
		return err
	}
	key := vm.CodeKey{Origin: origin, ID: id}
	if origin.RoomScoped() {
		if room == 0 {
			return fmt.Errorf("%s scripts need -room", origin)
		}
		key.Room = room
	}

	store, err := resource.CreateSQLite(db)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := prog.Install(store, key); err != nil {
		return err
	}
	fmt.Printf("Installed %s (%d bytes, %d verbs) into %s\n", key, len(prog.Code), len(prog.Verbs), db)
	return nil
}
