// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pht

import "unsafe"

// RehashFunc computes the hash of an element pointer. It must be
// deterministic and referentially transparent for as long as the pointer
// remains in the table: pht may call it again during migration, and must
// get the same answer back.
type RehashFunc func(p unsafe.Pointer, cookie any) uintptr

// CompareFunc reports whether candidate is the element identified by key.
// It is used only by Table.Get, and is expected to be side-effect free.
type CompareFunc func(candidate, key unsafe.Pointer) bool

// Table is a progressively rehashed, open-addressed hash multiset of
// unsafe.Pointer elements.
//
// Table does not own the lifetime of the elements it stores: a stored
// pointer is kept only as a uintptr bit pattern with its subtable's
// common bits masked off, never as a traced unsafe.Pointer, so storing an
// element in a Table does not by itself keep it reachable for the
// garbage collector. Callers must keep inserted pointers alive and
// address-stable by some other reference for as long as they remain in
// the table.
//
// Table is not safe for concurrent use. Add, Del and Clear invalidate
// all outstanding Iters over the same Table; DelVal invalidates all of
// them except the Iter passed to it, which NextVal can continue.
//
// The zero Table is not usable; construct one with New or Init.
type Table struct {
	rehash RehashFunc
	cookie any
	elems  int

	// tables holds every live subtable, newest (the primary, receiving
	// all inserts) first and oldest (the migration source) last.
	tables []*subtable
}

// New returns an initialized, empty Table using rehash to hash elements
// and passing cookie back to it on every call.
func New(rehash RehashFunc, cookie any) *Table {
	t := &Table{}
	t.Init(rehash, cookie)
	return t
}

// Init (re-)initializes t as an empty table. It is safe to call on the
// zero Table, or on a Table that has been Clear()ed.
func (t *Table) Init(rehash RehashFunc, cookie any) {
	t.rehash = rehash
	t.cookie = cookie
	t.elems = 0
	t.tables = nil
}

// Count returns the number of elements currently stored in t.
func (t *Table) Count() int {
	return t.elems
}

// Clear frees every subtable. t becomes empty and reusable; its rehash
// function and cookie are unchanged.
func (t *Table) Clear() {
	t.tables = nil
	t.elems = 0
}

// primary returns the newest subtable, or nil if t is empty.
func (t *Table) primary() *subtable {
	if len(t.tables) == 0 {
		return nil
	}
	return t.tables[0]
}

// unlink removes dead from t's subtable list. dead must have zero
// elements remaining.
func (t *Table) unlink(dead *subtable) {
	for i, st := range t.tables {
		if st == dead {
			t.tables = append(t.tables[:i], t.tables[i+1:]...)
			return
		}
	}
}

// Add inserts p into t. It returns false only when p is the nil pointer,
// which can neither be stored nor found by any lookup.
//
// A successful Add invalidates every outstanding Iter over t and
// performs exactly one migration step (at most one call to t's rehash
// function, plus a bounded scan of the oldest subtable).
func (t *Table) Add(hash uintptr, p unsafe.Pointer) bool {
	if p == nil {
		return false
	}

	pt := t.primary()
	if pt == nil || pt.elems+1 > pt.maxElems() || pt.elems+1+pt.deleted > pt.maxFill() {
		keepChain := pt == nil || pt.elems+1+pt.deleted <= pt.maxFill()
		pt = newTable(t, pt, keepChain)
	}

	if uintptr(p)&pt.commonMask != pt.commonBits {
		pt = updateCommon(t, pt, p)
	}

	tableAdd(pt, hash, p)
	t.elems++

	migStep(t, pt)
	return true
}

// Del removes, by hash and pointer identity, the element p from t. It
// reports whether a matching element was found and removed.
func (t *Table) Del(hash uintptr, p unsafe.Pointer) bool {
	var it Iter
	for cand := t.FirstVal(&it, hash); cand != nil; cand = t.NextVal(&it, hash) {
		if cand == p {
			t.DelVal(&it)
			return true
		}
	}
	return false
}

// Copy initializes dst as an empty table sharing src's rehash function
// and cookie, then inserts every element of src into it. dst should be
// either uninitialized, freshly Init'd, or Clear()ed with nothing added
// since. Copy always succeeds; Go's allocator panics rather than
// returning on out-of-memory, so there is no failure path left to report
// with a bool (see DESIGN.md).
func Copy(dst, src *Table) bool {
	dst.Init(src.rehash, src.cookie)
	var it Iter
	for p := src.First(&it); p != nil; p = src.Next(&it) {
		dst.Add(src.rehash(p, src.cookie), p)
	}
	return true
}

// Get returns the first element found by hashed lookup for which cmp
// reports equal to key, or nil if none matches.
func (t *Table) Get(hash uintptr, cmp CompareFunc, key unsafe.Pointer) unsafe.Pointer {
	var it Iter
	cand := t.FirstVal(&it, hash)
	for cand != nil && !cmp(cand, key) {
		cand = t.NextVal(&it, hash)
	}
	return cand
}
