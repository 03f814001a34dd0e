//go:build cgo

// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libafitness.so (Android) / afitness.framework (iOS)
// with -buildmode=c-shared.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"sync"
	"time"
	"unsafe"
)

var (
	bridge  Bridge
	lastErr string
	lastMu  sync.RWMutex
)

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = err.Error()
}

func result(s string, err error) *C.char {
	setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(s)
}

func status(err error) C.int {
	setLastError(err)
	if err != nil {
		return -1
	}
	return 0
}

//export Init
// Init opens the sync core. configPath may be empty.
// Returns 0 on success and -1 on failure, see GetLastError.
func Init(configPath *C.char) C.int {
	return status(bridge.Open(C.GoString(configPath)))
}

//export Cleanup
// Cleanup stops the sync core.
func Cleanup() C.int {
	return status(bridge.Close())
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

// =====================================================
// Sync Operations
// =====================================================

//export SyncAdd
// SyncAdd queues a mutation. domain is training, nutrition or recovery.
// Returns JSON string that must be freed by the caller.
func SyncAdd(domain, action, data *C.char) *C.char {
	return result(bridge.Add(C.GoString(domain), C.GoString(action), C.GoString(data)))
}

//export SyncState
// SyncState returns the current sync state.
// Returns JSON string that must be freed by the caller.
func SyncState() *C.char {
	return result(bridge.State())
}

//export SyncNextState
// SyncNextState blocks up to timeoutMs for a state change and returns NULL
// with an empty last error when nothing changed.
func SyncNextState(timeoutMs C.int) *C.char {
	s, ok, err := bridge.NextState(time.Duration(timeoutMs) * time.Millisecond)
	if err != nil || !ok {
		setLastError(err)
		return nil
	}
	return result(s, nil)
}

//export SyncTrigger
// SyncTrigger drains the queue now.
// Returns JSON string that must be freed by the caller.
func SyncTrigger() *C.char {
	return result(bridge.Trigger())
}

//export SyncSetOnline
// SyncSetOnline forwards the platform connectivity callback.
func SyncSetOnline(online C.int) C.int {
	return status(bridge.SetOnline(online != 0))
}

//export SyncList
// SyncList lists queued items. statuses is comma separated and may be empty.
// Returns JSON array that must be freed by the caller.
func SyncList(statuses *C.char) *C.char {
	return result(bridge.List(C.GoString(statuses)))
}

//export SyncRetryFailed
// SyncRetryFailed returns failed items to the queue.
// Returns JSON string that must be freed by the caller.
func SyncRetryFailed() *C.char {
	return result(bridge.RetryFailed())
}

//export SyncDiscard
// SyncDiscard drops a queued item.
func SyncDiscard(id *C.char) C.int {
	return status(bridge.Discard(C.GoString(id)))
}

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
