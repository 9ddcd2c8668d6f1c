// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// Package thread provides scheduling helpers for goroutines with timing-sensitive work,
// such as servicing a radio whose FIFO must be drained before the next frame arrives.
package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

const (
	FIFO = 1 // fifo scheduling policy
	RR   = 2 // round-robin scheduling policy
)

// Realtime locks the calling goroutine to its own kernel thread and switches that thread to
// the round-robin realtime scheduling policy at the given priority (1..99, low numbers being
// plenty for radio servicing). Requires CAP_SYS_NICE or root.
func Realtime(priority int) error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{priority})))
	if res == 0 {
		return nil
	}
	return err
}

type schedParam struct {
	Priority int
}
