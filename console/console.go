package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/jroimartin/gocui"
)

/*
Status console for the debugger frontend.

The console runs in a goroutine; other parts of the emulator push
status messages to it through a string channel, so a component never
blocks on terminal drawing.
*/

// Console is anything the system can print status messages to.
type Console interface {
	WriteConsole(msg string) error
}

// Gui writes to a gocui view. Updates go through gocui.Update, the
// only way a goroutine may touch a view.
type Gui struct {
	consoleOut  chan string
	g           *gocui.Gui
	v           *gocui.View
	currentLine int
}

// NewGui returns a console bound to the named view and starts its
// drain goroutine.
func NewGui(g *gocui.Gui, viewName string) *Gui {
	c := new(Gui)
	c.consoleOut = make(chan string)
	c.g = g
	c.v, _ = g.View(viewName)
	c.initGui()
	return c
}

func (c *Gui) initGui() {
	go func() {
		for {
			s := <-c.consoleOut
			c.g.Update(func(g *gocui.Gui) error {
				fmt.Fprintf(c.v, "%s", s)
				return nil
			})
		}
	}()
}

// WriteConsole displays a string on the console
func (c *Gui) WriteConsole(msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			c.consoleOut <- line + "\n"
			c.currentLine++
		}
	}
	return nil
}

// Simple writes straight to stdout. Used with the -nogui flag and in
// tests.
type Simple struct {
	consoleOut  chan string
	currentLine int
}

// NewSimple returns a stdout console and starts its drain goroutine.
func NewSimple() *Simple {
	c := new(Simple)
	c.consoleOut = make(chan string)
	c.initSimple()
	return c
}

func (c *Simple) initSimple() {
	go func() {
		for {
			s := <-c.consoleOut
			os.Stdout.Write([]byte(s))
		}
	}()
}

// WriteConsole displays a string on the console
func (c *Simple) WriteConsole(msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			c.consoleOut <- line + "\n"
			c.currentLine++
		}
	}
	return nil
}
