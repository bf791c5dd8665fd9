package disk

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/secret"
)

const defaultCryptsetup = "cryptsetup"

// Activator maps LUKS volumes with cryptsetup.
type Activator struct {
	Runner Runner
	// Cryptsetup is the binary to run; defaults to "cryptsetup" on PATH.
	Cryptsetup string
	// Stdout and Stderr receive masked subprocess output. They default to
	// the process's own.
	Stdout io.Writer
	Stderr io.Writer
}

// NewActivator returns an Activator using ExecRunner.
func NewActivator() *Activator {
	return &Activator{Runner: ExecRunner{}}
}

// Open runs `cryptsetup luksOpen --key-file=- device name` with key on
// stdin. Any copy of the key in the subprocess output is redacted. The
// caller keeps ownership of key.
func (a *Activator) Open(ctx context.Context, device, name string, key *secret.Secret) error {
	if device == "" || name == "" {
		return fmt.Errorf("%w: device and mapping name are required", failure.ErrFormat)
	}
	if key == nil || key.Len() == 0 {
		return fmt.Errorf("%w: empty disk key", failure.ErrFormat)
	}

	bin := a.Cryptsetup
	if bin == "" {
		bin = defaultCryptsetup
	}
	runner := a.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	raw := key.Bytes()
	hexKey := hex.EncodeToString(raw)
	patterns := []string{string(raw), hexKey, strings.ToUpper(hexKey)}
	stdout := NewMaskingWriter(orDefault(a.Stdout, os.Stdout), patterns...)
	stderr := NewMaskingWriter(orDefault(a.Stderr, os.Stderr), patterns...)

	logx.Infof("opening %s as /dev/mapper/%s", device, name)
	code, err := runner.Run(ctx, Command{
		Path:   bin,
		Args:   []string{"luksOpen", "--key-file=-", device, name},
		Stdin:  bytes.NewReader(raw),
		Stdout: stdout,
		Stderr: stderr,
	})
	_ = stdout.Flush()
	_ = stderr.Flush()
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrIO, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: cryptsetup luksOpen %s exited with status %d", failure.ErrIO, device, code)
	}
	return nil
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
