// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pht

// fastMigrate attempts to move mig's entry at slot mig.nextmig-1 (value e)
// into t without invoking the caller's rehash function. It returns false
// when a rehash is unavoidable, in which case the caller must decode,
// rehash and reinsert the element itself.
func fastMigrate(t, mig *subtable, e slotWord) bool {
	off := mig.nextmig - 1
	tMask := t.mask()
	var perfect uintptr

	switch {
	case uintptr(e)&mig.perfectMask() != 0:
		if t.bits <= mig.bits {
			// Perfect items migrate directly to same-sized or smaller
			// tables, losing the perfect bit only if the sole home
			// position is already occupied.
			off >>= mig.bits - t.bits
			perfect = t.perfectMask()
		} else {
			// A perfect item may also land after its home-slot range in
			// a larger table, provided every slot in that range is
			// already non-empty: fill any empty ones with tombstones so
			// that holds, then re-derive off.
			if t.bits < 2 {
				// Breaks down at exactly two slots: we'd get the
				// perfect bit wrong about half the time.
				return false
			}
			scale := int(t.bits) - int(mig.bits)
			lo, hi := off<<scale, (off+1)<<scale
			for i := lo; i < hi; i++ {
				if t.slots[i] == empty {
					t.slots[i] = tombstone
					t.deleted++
				}
			}
			off = hi & int(tMask)
			perfect = 0
		}

	case mig.chainStart == 0:
		// Imperfect items up to the first chain break may have wrapped
		// around the table and must always be rehashed.
		return false

	default:
		if t.bits <= mig.bits {
			if !mig.keepChain && !mig.chainSafe {
				return false
			}
			off >>= mig.bits - t.bits
		} else if mig.chainSafe {
			off <<= int(t.bits) - int(mig.bits)
			mig.chainSafe = false
		} else {
			return false
		}
		perfect = 0
	}

	e = (e & slotWord(t.commonMask) &^ slotWord(t.perfectMask())) |
		((e &^ slotWord(mig.commonMask)) | slotWord(mig.commonBits)) & slotWord(^t.commonMask)

	i := uintptr(off) & tMask
	if isValid(t.slots[i]) && t.slots[i]&slotWord(perfect) == 0 {
		olde := t.slots[i]
		t.slots[i] = e | slotWord(perfect)
		e = olde
		perfect = 0
		i = (i + 1) & tMask
	}
	for isValid(t.slots[i]) {
		perfect = 0
		i = (i + 1) & tMask
	}

	if t.slots[i] == tombstone {
		t.deleted--
	}
	t.slots[i] = e | slotWord(perfect)
	t.elems++

	return true
}

// migItem migrates one entry (e) from mig into t, falling back to a full
// rehash-and-reinsert when fastOnly is false and the fast path refuses.
// If this empties mig it is unlinked from ht. It returns whether the fast
// path was taken.
func migItem(ht *Table, t, mig *subtable, e slotWord, fastOnly bool) bool {
	fast := fastMigrate(t, mig, e)
	if !fast {
		if fastOnly {
			return false
		}
		m := mig.entryToPtr(e)
		tableAdd(t, ht.rehash(m, ht.cookie), m)
	}
	mig.elems--
	if mig.elems == 0 {
		ht.unlink(mig)
	}
	return fast
}

// migScanItem updates mig's chain-tracking state as nextmig passes over a
// slot with value e, and, when mig.keepChain is set, writes a tombstone
// into t's projected destination to preserve probing continuity across
// the migration cut.
func migScanItem(t, mig *subtable, e slotWord) {
	switch e {
	case empty:
		mig.chainStart = mig.nextmig
		mig.chainSafe = true
	case tombstone:
		mig.chainSafe = false
		if mig.keepChain {
			off := (mig.nextmig - 1) >> (mig.bits - t.bits)
			if t.slots[off] == empty {
				t.slots[off] = tombstone
				t.deleted++
			}
		}
	}
}

// migStep performs, on behalf of a single successful Add, as much
// migration work from the oldest subtable as the one-rehash/one-cache-
// line budget allows.
func migStep(ht *Table, t *subtable) {
	mig := ht.tables[len(ht.tables)-1]
	if mig == t {
		return
	}

	if mig.credit > 0 && mig.nextmig%wordsPerBatch == 0 {
		mig.credit--
		return
	}

	// The first scan looks arbitrarily far ahead, since at least one
	// entry must move per step.
	var e slotWord
	for {
		e = mig.slots[mig.nextmig]
		mig.nextmig++
		migScanItem(t, mig, e)
		if isValid(e) {
			break
		}
	}
	elemsLeft := mig.elems - 1
	rehashed := !migItem(ht, t, mig, e, false)
	if elemsLeft == 0 {
		return
	}

	// The second scan tries to finish the batch of slots just touched
	// (an equivalent, address-free stand-in for "finish this cache
	// line"), stopping only if a second rehash-requiring item turns up.
	leftWords := 0
	if r := mig.nextmig % wordsPerBatch; r != 0 {
		leftWords = wordsPerBatch - r
	}
	lim := min(mig.size(), mig.nextmig+leftWords)
	for mig.nextmig < lim {
		e = mig.slots[mig.nextmig]
		mig.nextmig++
		migScanItem(t, mig, e)
		if isValid(e) {
			if !migItem(ht, t, mig, e, rehashed) {
				if rehashed {
					mig.nextmig--
					return
				}
				rehashed = true
			}
			elemsLeft--
			if elemsLeft == 0 {
				return
			}
			mig.credit++
		}
	}
}
