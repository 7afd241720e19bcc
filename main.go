package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jroimartin/gocui"

	"github.com/Riffe007/nanocore/console"
	"github.com/Riffe007/nanocore/logger"
	"github.com/Riffe007/nanocore/system"
	"github.com/Riffe007/nanocore/vm"
)

func main() {
	var (
		programPath = flag.String("program", "", "assembly source to boot instead of the built-in program")
		diskImage   = flag.String("disk", "", "disk image to attach")
		memSize     = flag.Uint64("mem", system.DefaultMemSize, "physical memory size in bytes")
		maxInst     = flag.Uint64("max", 0, "instruction budget, 0 runs to completion")
		noGui       = flag.Bool("nogui", false, "run headless and print the counters on exit")
		logPath     = flag.String("logfile", "", "append the machine log to this file")
	)
	flag.Parse()

	machineLog := logger.Discard()
	if *logPath != "" {
		machineLog = logger.New(*logPath)
	}

	cfg := system.Config{
		MemSize:     *memSize,
		ProgramPath: *programPath,
		DiskImage:   *diskImage,
		Log:         machineLog,
	}

	if *noGui {
		os.Exit(runHeadless(cfg, *maxInst))
	}
	runGui(cfg)
}

func runHeadless(cfg system.Config, maxInst uint64) int {
	cfg.Output = os.Stdout
	sys, err := system.InitializeSystem(cfg, console.NewSimple())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sys.VM.Destroy()

	st := sys.Boot(maxInst)
	fmt.Print(sys.PerfText())
	if st == vm.StatusError {
		return 1
	}
	return 0
}

func runGui(cfg system.Config) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		log.Panicln("couldn't create gui:", err)
	}
	defer g.Close()

	g.SetManagerFunc(layout)

	d := &debugger{g: g, cfg: cfg}
	if err := d.bind(); err != nil {
		log.Panicln(err)
	}

	// start emulation once the views exist
	g.Update(d.start)

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		log.Panicln(err)
	}
}

// debugger couples one machine to the gocui surface.
type debugger struct {
	g   *gocui.Gui
	cfg system.Config
	sys *system.System
	con console.Console
}

func (d *debugger) bind() error {
	if err := d.g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := d.g.SetKeybinding("", 's', gocui.ModNone, d.step); err != nil {
		return err
	}
	if err := d.g.SetKeybinding("", 'c', gocui.ModNone, d.cont); err != nil {
		return err
	}
	return d.g.SetKeybinding("", 'r', gocui.ModNone, d.reset)
}

func (d *debugger) start(g *gocui.Gui) error {
	for _, name := range []string{"terminal", "registers", "status"} {
		v, err := g.View(name)
		if err != nil {
			return err
		}
		v.Clear()
	}

	d.con = console.NewGui(g, "status")
	d.cfg.Output = &viewWriter{g: g, view: "terminal"}

	sys, err := system.InitializeSystem(d.cfg, d.con)
	if err != nil {
		return err
	}
	d.sys = sys

	_ = d.con.WriteConsole("s steps, c continues, r resets, ^C quits\n")
	d.refreshRegisters()
	return nil
}

func (d *debugger) step(g *gocui.Gui, v *gocui.View) error {
	if d.sys == nil {
		return nil
	}
	d.sys.Step()
	_ = d.con.WriteConsole(d.sys.Where() + "\n")
	d.refreshRegisters()
	return nil
}

func (d *debugger) cont(g *gocui.Gui, v *gocui.View) error {
	if d.sys == nil {
		return nil
	}
	if _, more := d.sys.Continue(); more {
		_ = d.con.WriteConsole("still running, c continues\n")
	}
	d.refreshRegisters()
	return nil
}

func (d *debugger) reset(g *gocui.Gui, v *gocui.View) error {
	if d.sys == nil {
		return nil
	}
	if err := d.sys.Reset(); err != nil {
		return err
	}
	d.refreshRegisters()
	return nil
}

// refreshRegisters redraws the register view. Views may only be
// touched from the gocui event loop.
func (d *debugger) refreshRegisters() {
	d.g.Update(func(g *gocui.Gui) error {
		v, err := g.View("registers")
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, d.sys.StatusText())
		return nil
	})
}

// viewWriter funnels guest terminal output into a gocui view.
type viewWriter struct {
	g    *gocui.Gui
	view string
}

func (w *viewWriter) Write(p []byte) (int, error) {
	s := string(p)
	w.g.Update(func(g *gocui.Gui) error {
		v, err := g.View(w.view)
		if err != nil {
			return err
		}
		fmt.Fprint(v, s)
		return nil
	})
	return len(p), nil
}

// gocui layout: guest terminal on top, registers in the middle, the
// status console at the bottom.
func layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	if v, err := g.SetView("terminal", 0, 0, maxX-1, maxY-22); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Terminal"
		v.Autoscroll = true
	}
	if v, err := g.SetView("registers", 0, maxY-21, maxX-1, maxY-11); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Registers"
	}
	if v, err := g.SetView("status", 0, maxY-10, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Autoscroll = true
	}
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
