package logging

import (
	"io"
	"log"
	"os"
)

// New logs to stderr; stdout carries the live sample lines.
func New() *log.Logger {
	return NewWithWriter(os.Stderr)
}

func NewWithWriter(w io.Writer) *log.Logger {
	return log.New(w, "ag53230a ", log.LstdFlags|log.LUTC)
}
