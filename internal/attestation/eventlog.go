package attestation

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aspect-build/attestkit/internal/failure"
)

// CCEL locations relative to the filesystem root.
const (
	ccelTablePath    = "sys/firmware/acpi/tables/CCEL"
	ccelDataPath     = "sys/firmware/acpi/tables/data/CCEL"
	ccelLengthOffset = 40
)

// ReadEventLog returns the TD event log from the CC event log ACPI table
// under root ("/" on a live system). The table's log-area length must match
// the data file exactly.
func ReadEventLog(root string) ([]byte, error) {
	table, err := os.ReadFile(filepath.Join(root, ccelTablePath))
	if err != nil {
		return nil, fmt.Errorf("%w: read CCEL table: %w", failure.ErrIO, err)
	}
	if len(table) < ccelLengthOffset+8 {
		return nil, fmt.Errorf("%w: CCEL table is %d bytes, need %d", failure.ErrFormat, len(table), ccelLengthOffset+8)
	}
	want := binary.LittleEndian.Uint64(table[ccelLengthOffset:])

	data, err := os.ReadFile(filepath.Join(root, ccelDataPath))
	if err != nil {
		return nil, fmt.Errorf("%w: read CCEL data: %w", failure.ErrIO, err)
	}
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: event log is %d bytes, CCEL declares %d", failure.ErrFormat, len(data), want)
	}
	return data, nil
}
