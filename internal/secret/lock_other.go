//go:build !linux

package secret

func lock([]byte) error { return nil }

func unlock([]byte) error { return nil }

// HardenProcess is a no-op outside Linux.
func HardenProcess() error { return nil }
