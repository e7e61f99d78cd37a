// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pht

import (
	"os"

	phtglog "github.com/aristanetworks/goarista/glog"
	"github.com/aristanetworks/goarista/logger"
)

// Debug gates Check: when false (the default), Check is the identity
// function and does no work, matching a release build. It is toggled via
// the PHT_DEBUG environment variable at startup, following the same
// env-configured-at-init pattern used elsewhere in this module's
// ancestry (see test.PrettyPrint's PPDEPTH).
var Debug = os.Getenv("PHT_DEBUG") != ""

// Logger receives Check's failure reports. It defaults to a glog-backed
// logger.Logger so a violation is fatal, matching spec's "programmer
// error, no recovery path" contract. Tests that want to observe a
// violation instead of exiting the process can swap this for a Logger
// whose Fatalf panics or records instead.
var Logger logger.Logger = &phtglog.Glog{}

// Check walks every subtable of t and verifies its structural
// invariants: per-subtable counts match a fresh scan, every
// valid slot's stash bits and perfect-bit flag match what rehashing it
// again produces, and every imperfect slot has a contiguous hash chain
// back to its home bucket. label is included in any failure message.
//
// Check does nothing unless Debug is true. A failed check is treated as
// a programming error (corrupted state, or a rehash function that isn't
// deterministic) and is fatal: there is no runtime recovery path, so it
// reports via Logger.Fatalf rather than returning an error.
func (t *Table) Check(label string) *Table {
	if !Debug {
		return t
	}

	phantom := t.elems
	primary := t.primary()
	for i, st := range t.tables {
		phantom -= st.elems
		if st.deleted > st.size() {
			Logger.Fatalf("pht check %q: subtable deleted=%d exceeds size=%d", label, st.deleted, st.size())
		}
		// Migration proceeds oldest-first, so only the subtable
		// immediately behind the primary may still have keepChain set.
		if st.keepChain && i != 1 {
			Logger.Fatalf("pht check %q: keepChain set on a subtable other than the first secondary", label)
		}
		if st.keepChain && st.bits < primary.bits {
			Logger.Fatalf("pht check %q: keepChain set but subtable is smaller than the primary", label)
		}

		var deleted, emptySlots, items int
		perfMask := st.perfectMask()
		for i := 0; i < st.size(); i++ {
			e := st.slots[i]
			switch e {
			case empty:
				emptySlots++
			case tombstone:
				deleted++
			default:
				if i >= st.nextmig {
					items++
				} else {
					emptySlots++
				}
			}

			if !isValid(e) {
				continue
			}
			extra := uintptr(e) & st.commonMask
			hash := t.rehash(st.entryToPtr(e), t.cookie)
			if extra&^perfMask != st.stash(hash) {
				Logger.Fatalf("pht check %q: slot %d stash mismatch", label, i)
			}
			isPerfect := uintptr(e)&perfMask != 0
			if isPerfect != (i == int(st.bucket(hash))) {
				Logger.Fatalf("pht check %q: slot %d perfect-bit mismatch", label, i)
			}
			if !isPerfect {
				slot := int(st.bucket(hash))
				for slot != i {
					if st.slots[slot] == empty {
						Logger.Fatalf("pht check %q: broken hash chain at slot %d", label, slot)
					}
					slot = (slot + 1) & (st.size() - 1)
				}
			}
		}
		if deleted != st.deleted {
			Logger.Fatalf("pht check %q: counted deleted=%d, want %d", label, deleted, st.deleted)
		}
		if items != st.elems {
			Logger.Fatalf("pht check %q: counted elems=%d, want %d", label, items, st.elems)
		}
		if emptySlots != st.size()-st.deleted-st.elems {
			Logger.Fatalf("pht check %q: counted empty=%d, want %d", label, emptySlots, st.size()-st.deleted-st.elems)
		}
	}
	if phantom != 0 {
		Logger.Fatalf("pht check %q: subtable elems don't sum to table elems (off by %d)", label, phantom)
	}

	return t
}
