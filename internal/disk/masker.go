package disk

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const redacted = "[REDACTED]"

// MaskingWriter forwards writes to out with every occurrence of a pattern
// replaced by [REDACTED]. Up to longest-1 bytes are held back between writes
// so a pattern split across two writes is still caught; call Flush when the
// producer is done.
type MaskingWriter struct {
	mu      sync.Mutex
	out     io.Writer
	matcher aho.AhoCorasick
	enabled bool
	longest int
	pending []byte
}

// NewMaskingWriter redacts patterns from everything written through it.
// Empty patterns are ignored; with none left the writer is a passthrough.
func NewMaskingWriter(out io.Writer, patterns ...string) *MaskingWriter {
	mw := &MaskingWriter{out: out}
	var keep []string
	for _, p := range patterns {
		if p == "" {
			continue
		}
		keep = append(keep, p)
		mw.longest = max(mw.longest, len(p))
	}
	if len(keep) == 0 {
		return mw
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	mw.matcher = builder.Build(keep)
	mw.enabled = true
	return mw
}

func (mw *MaskingWriter) Write(p []byte) (int, error) {
	if !mw.enabled {
		return mw.out.Write(p)
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	mw.pending = append(mw.pending, p...)
	if err := mw.drain(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush redacts and writes whatever is still held back.
func (mw *MaskingWriter) Flush() error {
	if !mw.enabled {
		return nil
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.drain(true)
}

// drain emits the redacted prefix of pending that can no longer be the
// start of a match, or all of it when final is set.
func (mw *MaskingWriter) drain(final bool) error {
	limit := len(mw.pending)
	if !final {
		limit -= mw.longest - 1
	}
	if limit <= 0 {
		return nil
	}

	out, consumed := mw.redact(limit, final)
	if len(out) > 0 {
		if _, err := mw.out.Write(out); err != nil {
			return err
		}
	}
	n := copy(mw.pending, mw.pending[consumed:])
	clear(mw.pending[n:])
	mw.pending = mw.pending[:n]
	return nil
}

// redact rewrites pending[:limit]. A match that starts before limit is
// replaced in full even if it runs past it, so consumed may exceed limit.
func (mw *MaskingWriter) redact(limit int, final bool) (out []byte, consumed int) {
	consumed = limit
	pos := 0
	for _, m := range mw.matcher.FindAll(string(mw.pending)) {
		if m.Start() < pos {
			continue
		}
		if m.Start() >= limit && !final {
			break
		}
		out = append(out, mw.pending[pos:m.Start()]...)
		out = append(out, redacted...)
		pos = m.End()
		consumed = max(consumed, pos)
	}
	if pos < limit {
		out = append(out, mw.pending[pos:limit]...)
	}
	return out, consumed
}
