//go:build linux

package secret

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func lock(b []byte) error {
	return unix.Mlock(b)
}

func unlock(b []byte) error {
	return unix.Munlock(b)
}

// HardenProcess marks the process non-dumpable and installs a seccomp
// filter that fails ptrace and cross-process memory access with EPERM.
// The filter is inherited by children, so cryptsetup runs under it too.
func HardenProcess() error {
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_DUMPABLE: %w", err)
	}
	if err := denyMemoryAccess(); err != nil {
		return fmt.Errorf("seccomp: %w", err)
	}
	return nil
}

// denyMemoryAccess returns EPERM from ptrace, process_vm_readv and
// process_vm_writev. Everything else is allowed.
func denyMemoryAccess() error {
	const (
		retAllow      = 0x7fff0000 // SECCOMP_RET_ALLOW
		retErrno      = 0x00050000 // SECCOMP_RET_ERRNO
		setModeFilter = 1          // SECCOMP_SET_MODE_FILTER
	)
	denied := []uint32{
		uint32(unix.SYS_PTRACE),
		uint32(unix.SYS_PROCESS_VM_READV),
		uint32(unix.SYS_PROCESS_VM_WRITEV),
	}

	// Load seccomp_data.nr, then one equality test per denied syscall.
	// A match jumps to the trailing deny instruction.
	filter := []unix.SockFilter{{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0}}
	for i, nr := range denied {
		filter = append(filter, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			K:    nr,
			Jt:   uint8(len(denied) - i),
		})
	}
	filter = append(filter,
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: retAllow},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: retErrno | uint32(unix.EPERM)},
	)
	prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, setModeFilter, 0, uintptr(unsafe.Pointer(&prog))); errno != 0 {
		return fmt.Errorf("SECCOMP_SET_MODE_FILTER: %w", errno)
	}
	return nil
}
