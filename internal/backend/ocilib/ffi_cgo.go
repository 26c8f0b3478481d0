//go:build cgo

package ocilib

/*
#cgo LDFLAGS: -lcrun
#include <stdlib.h>

// Minimal ABI surface this package binds against. A real libcrun-style
// runtime library exposes an opaque handle plus an out-parameter error
// struct; this mirrors that shape rather than crun's actual C API, since
// the exact symbol names vary across OCI runtime library builds.
typedef struct crun_error {
	int code;
	char *message;
} crun_error;

extern void *crun_container_load(const char *id, const char *bundle_dir, const char *config_path, crun_error *err);
extern long long crun_container_create(void *handle, crun_error *err);
extern int crun_container_start(void *handle, crun_error *err);
extern int crun_container_kill(void *handle, const char *signal, crun_error *err);
extern int crun_container_delete(void *handle, int force, crun_error *err);
extern int crun_container_state(void *handle, char **status_out, long long *pid_out, crun_error *err);
extern void crun_container_free(void *handle);
extern void crun_error_free(crun_error *err);
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// libraryAvailable reports whether the library binding was compiled in.
// The cgo build always reports true; whether libcrun.so actually resolves
// at process start is a linker-time concern outside this package's control.
func libraryAvailable() bool { return true }

// handles maps a container id to its library-owned opaque handle for the
// lifetime of the process, mirroring how a cgo wrapper keeps the C side's
// handle alive between separate Go calls on the same container.
var (
	handleMu sync.Mutex
	handles  = map[string]unsafe.Pointer{}
)

func cErr(e *C.crun_error) error {
	if e.code == 0 {
		return nil
	}
	msg := C.GoString(e.message)
	C.crun_error_free(e)
	return fmt.Errorf("libcrun: code %d: %s", int(e.code), msg)
}

func loadHandle(id, bundleDir, configPath string) (unsafe.Pointer, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	if h, ok := handles[id]; ok {
		return h, nil
	}

	cID := C.CString(id)
	defer C.free(unsafe.Pointer(cID))
	cBundle := C.CString(bundleDir)
	defer C.free(unsafe.Pointer(cBundle))
	cConfig := C.CString(configPath)
	defer C.free(unsafe.Pointer(cConfig))

	var cerr C.crun_error
	h := C.crun_container_load(cID, cBundle, cConfig, &cerr)
	if err := cErr(&cerr); err != nil {
		return nil, err
	}
	handles[id] = h
	return h, nil
}

func libCreate(id, bundleDir, configPath string) (int64, error) {
	h, err := loadHandle(id, bundleDir, configPath)
	if err != nil {
		return 0, err
	}
	var cerr C.crun_error
	pid := C.crun_container_create(h, &cerr)
	if err := cErr(&cerr); err != nil {
		return 0, err
	}
	return int64(pid), nil
}

func libStart(id string) error {
	h, ok := lookupHandle(id)
	if !ok {
		return fmt.Errorf("libcrun: no loaded handle for %q", id)
	}
	var cerr C.crun_error
	if rc := C.crun_container_start(h, &cerr); rc != 0 {
		if err := cErr(&cerr); err != nil {
			return err
		}
	}
	return nil
}

func libKill(id, signal string) error {
	h, ok := lookupHandle(id)
	if !ok {
		return fmt.Errorf("libcrun: no loaded handle for %q", id)
	}
	cSig := C.CString(signal)
	defer C.free(unsafe.Pointer(cSig))
	var cerr C.crun_error
	if rc := C.crun_container_kill(h, cSig, &cerr); rc != 0 {
		if err := cErr(&cerr); err != nil {
			return err
		}
	}
	return nil
}

func libDelete(id string, force bool) error {
	h, ok := lookupHandle(id)
	if !ok {
		return nil // already unloaded; delete is idempotent
	}
	forceFlag := C.int(0)
	if force {
		forceFlag = 1
	}
	var cerr C.crun_error
	rc := C.crun_container_delete(h, forceFlag, &cerr)
	if err := cErr(&cerr); err != nil {
		return err
	}
	if rc == 0 {
		handleMu.Lock()
		C.crun_container_free(h)
		delete(handles, id)
		handleMu.Unlock()
	}
	return nil
}

func libState(id string) (*specs.State, error) {
	h, ok := lookupHandle(id)
	if !ok {
		return nil, fmt.Errorf("libcrun: no loaded handle for %q", id)
	}
	var cStatus *C.char
	var cPid C.longlong
	var cerr C.crun_error
	if rc := C.crun_container_state(h, &cStatus, &cPid, &cerr); rc != 0 {
		if err := cErr(&cerr); err != nil {
			return nil, err
		}
	}
	defer C.free(unsafe.Pointer(cStatus))
	return &specs.State{
		Version: specs.Version,
		ID:      id,
		Status:  specs.ContainerState(C.GoString(cStatus)),
		Pid:     int(cPid),
	}, nil
}

func lookupHandle(id string) (unsafe.Pointer, bool) {
	handleMu.Lock()
	defer handleMu.Unlock()
	h, ok := handles[id]
	return h, ok
}
