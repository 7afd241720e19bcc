package logger

import (
	"io"
	"log"
	"os"
)

// New returns the machine logger. With an empty path it writes to
// stdout; otherwise it appends to the named file.
func New(path string) *log.Logger {
	if len(path) == 0 {
		return log.New(os.Stdout, "nanocore ", log.Ldate|log.Ltime|log.Lshortfile)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		log.Fatal(err)
	}
	return log.New(f, "nanocore ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Discard returns a logger that drops everything, for embedding the
// machine in tests or other programs.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
