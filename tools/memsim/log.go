package main

import (
	"bytes"
	"io"

	"github.com/sirupsen/logrus"

	"hexos/kernel/kfmt"
)

var logger = logrus.New()

// lineLogger turns a byte stream into one log entry per line. kfmt emits
// most output a byte at a time so partial lines are buffered.
type lineLogger struct {
	entry *logrus.Entry
	buf   []byte
}

// Write implements io.Writer.
func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		index := bytes.IndexByte(w.buf, '\n')
		if index < 0 {
			break
		}
		w.entry.Info(string(w.buf[:index]))
		w.buf = w.buf[index+1:]
	}
	return len(p), nil
}

// Flush logs any incomplete trailing line.
func (w *lineLogger) Flush() {
	if len(w.buf) > 0 {
		w.entry.Info(string(w.buf))
		w.buf = w.buf[:0]
	}
}

// routeKernelOutput sends kfmt output for the named machine to the logger
// and returns a function that restores the previous sink.
func routeKernelOutput(machine string) func() {
	sink := &lineLogger{entry: logger.WithField("source", "kernel")}
	prev := kfmt.GetOutputSink()

	kfmt.SetOutputSink(&kfmt.PrefixWriter{
		Sink:   sink,
		Prefix: []byte("(" + machine + ") "),
	})

	return func() {
		sink.Flush()
		kfmt.SetOutputSink(prev)
	}
}

var _ io.Writer = (*lineLogger)(nil)
