package sidecar

import (
	"bytes"
	"sync"
)

// lineWriter is an io.WriteCloser that splits what is written to it into lines and hands each
// complete line to onLine. A trailing partial line is delivered on Close.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(line string)
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(b)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(b), nil
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		w.onLine(line)
	}
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		line := string(bytes.TrimRight(w.buf.Bytes(), "\r\n"))
		w.buf.Reset()
		w.onLine(line)
	}
	return nil
}
