// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

// The reference HSM's tamper-evident audit log (drain/ack/reset) has no
// PKCS#11-standard mechanism. Vendor HSM modules commonly export such
// operations as extra C symbols alongside the standard C_GetFunctionList
// entry point in the very same shared object; we reach them with dlsym
// against a second handle to the module, the same escape-hatch idea as
// src/pk11/native.go's raw vtable call, adapted because this capability
// isn't even in the standard function list to begin with.

typedef struct {
    unsigned short index;
    unsigned char  command;
    unsigned short data_length;
    unsigned short session_key;
    unsigned short target_key;
    unsigned short second_key;
    unsigned char  result;
    unsigned int   systick;
    unsigned char  hash[16];
} fero_log_entry_t;

typedef unsigned long (*fero_get_log_entries_fn)(
    unsigned long session, unsigned short since,
    fero_log_entry_t* out, unsigned long* count);
typedef unsigned long (*fero_set_log_index_fn)(unsigned long session, unsigned short index);
typedef unsigned long (*fero_reset_fn)(unsigned long session);
typedef unsigned long (*fero_put_authkey_fn)(
    unsigned long session, unsigned short id, const char* label,
    unsigned short domains, unsigned long long caps, unsigned long long delegated,
    const char* password);

static void* fero_vendor_open(const char* path) {
    return dlopen(path, RTLD_NOW | RTLD_NOLOAD);
}

static unsigned long fero_vendor_get_log_entries(void* handle, unsigned long session,
        unsigned short since, fero_log_entry_t* out, unsigned long* count) {
    fero_get_log_entries_fn fn = (fero_get_log_entries_fn)dlsym(handle, "fero_vendor_get_log_entries");
    if (!fn) return 1;
    return fn(session, since, out, count);
}

static unsigned long fero_vendor_set_log_index(void* handle, unsigned long session, unsigned short index) {
    fero_set_log_index_fn fn = (fero_set_log_index_fn)dlsym(handle, "fero_vendor_set_log_index");
    if (!fn) return 1;
    return fn(session, index);
}

static unsigned long fero_vendor_reset(void* handle, unsigned long session) {
    fero_reset_fn fn = (fero_reset_fn)dlsym(handle, "fero_vendor_reset");
    if (!fn) return 1;
    return fn(session);
}

static unsigned long fero_vendor_put_authkey(void* handle, unsigned long session, unsigned short id,
        const char* label, unsigned short domains, unsigned long long caps,
        unsigned long long delegated, const char* password) {
    fero_put_authkey_fn fn = (fero_put_authkey_fn)dlsym(handle, "fero_vendor_put_authkey");
    if (!fn) return 1;
    return fn(session, id, label, domains, caps, delegated, password);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// vendorExt holds the dlopen handle used to reach the module's vendor
// extension symbols, opened lazily and cached for the life of the adapter.
type vendorExt struct {
	path   string
	handle unsafe.Pointer
}

func newVendorExt(path string) *vendorExt {
	return &vendorExt{path: path}
}

func (v *vendorExt) ensure() error {
	if v.handle != nil {
		return nil
	}
	cpath := C.CString(v.path)
	defer C.free(unsafe.Pointer(cpath))

	h := C.fero_vendor_open(cpath)
	if h == nil {
		return fmt.Errorf("vendor extension module not resident: %q", v.path)
	}
	v.handle = h
	return nil
}

const maxLogBatch = 4096

func (p *PKCS11) vendor() *vendorExt {
	if p.vext == nil {
		p.vext = newVendorExt(p.modulePath)
	}
	return p.vext
}

func (p *PKCS11) Logs() ([]LogEntry, error) {
	return p.logsSince(0)
}

func (p *PKCS11) LogsSince(since uint16) ([]LogEntry, error) {
	return p.logsSince(since)
}

func (p *PKCS11) logsSince(since uint16) ([]LogEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireSession(); err != nil {
		return nil, err
	}
	v := p.vendor()
	if err := v.ensure(); err != nil {
		return nil, fmt.Errorf("hsm unavailable: %w", err)
	}

	buf := make([]C.fero_log_entry_t, maxLogBatch)
	count := C.ulong(0)

	rv := C.fero_vendor_get_log_entries(v.handle, C.ulong(p.sess), C.ushort(since), &buf[0], &count)
	if rv != 0 {
		return nil, fmt.Errorf("hsm returned error code %d draining log", uint(rv))
	}

	entries := make([]LogEntry, int(count))
	for i := 0; i < int(count); i++ {
		e := buf[i]
		entries[i] = LogEntry{
			Index:      uint16(e.index),
			Command:    uint8(e.command),
			DataLength: uint16(e.data_length),
			SessionKey: uint16(e.session_key),
			TargetKey:  uint16(e.target_key),
			SecondKey:  uint16(e.second_key),
			Result:     uint8(e.result),
			SysTick:    uint32(e.systick),
		}
		for j := 0; j < 16; j++ {
			entries[i].Hash[j] = byte(e.hash[j])
		}
	}
	return entries, nil
}

func (p *PKCS11) SetLogIndex(index uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireSession(); err != nil {
		return err
	}
	v := p.vendor()
	if err := v.ensure(); err != nil {
		return fmt.Errorf("hsm unavailable: %w", err)
	}

	rv := C.fero_vendor_set_log_index(v.handle, C.ulong(p.sess), C.ushort(index))
	if rv != 0 {
		return fmt.Errorf("hsm returned error code %d setting log index", uint(rv))
	}
	return nil
}

func (p *PKCS11) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireSession(); err != nil {
		return err
	}
	v := p.vendor()
	if err := v.ensure(); err != nil {
		return fmt.Errorf("hsm unavailable: %w", err)
	}

	rv := C.fero_vendor_reset(v.handle, C.ulong(p.sess))
	p.hasSess = false
	if rv != 0 {
		return fmt.Errorf("hsm returned error code %d on reset", uint(rv))
	}
	return nil
}

func (p *PKCS11) CreateAuthKey(id uint16, label string, domains uint16, caps, delegatedCaps Capability, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireSession(); err != nil {
		return err
	}
	v := p.vendor()
	if err := v.ensure(); err != nil {
		return fmt.Errorf("hsm unavailable: %w", err)
	}

	clabel := C.CString(label)
	defer C.free(unsafe.Pointer(clabel))
	cpass := C.CString(password)
	defer C.free(unsafe.Pointer(cpass))

	rv := C.fero_vendor_put_authkey(v.handle, C.ulong(p.sess), C.ushort(id), clabel,
		C.ushort(domains), C.ulonglong(caps), C.ulonglong(delegatedCaps), cpass)
	if rv != 0 {
		return fmt.Errorf("hsm returned error code %d creating authkey %d", uint(rv), id)
	}
	return nil
}
