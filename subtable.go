// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pht

import (
	"math/bits"
	"unsafe"
)

// subtable is one generation of the progressively-migrated table. The
// newest subtable (index 0 of Table.tables) is the primary and receives
// every insert; all others are secondaries being drained by the migration
// engine.
type subtable struct {
	slots []slotWord

	elems, deleted int

	// nextmig is the migration horizon: slots at indices < nextmig have
	// already been migrated out and must be treated as absent by lookup
	// and deletion. 0 means migration hasn't started; len(slots) means
	// fully drained (the subtable is about to be unlinked).
	nextmig int

	// chainStart is the index of the first non-empty slot following an
	// empty slot within [0, nextmig). It lets a lookup whose home bucket
	// falls inside the migrated zone decide whether probing this
	// subtable at all could possibly succeed.
	chainStart int

	// credit lets migration skip ahead without a rehash once a prior
	// step already paid for one, bounding it to a single rehash and one
	// cache line of work per caller-visible Add.
	credit int

	commonBits, commonMask uintptr
	perfectBit             uint8

	// keepChain and chainSafe are kept as two explicit booleans rather
	// than merged into a single flags field: they are set and cleared
	// independently by the migration engine (see migrate.go).
	keepChain bool
	chainSafe bool

	bits uint8 // log2(len(slots))
}

func (t *subtable) maxElems() int {
	return (3 << t.bits) / 4
}

func (t *subtable) maxFill() int {
	// 29/32 is close enough to 9/10 and computes with a shift.
	return (29 << t.bits) / 32
}

func (t *subtable) size() int {
	return 1 << t.bits
}

func (t *subtable) mask() uintptr {
	return uintptr(t.size() - 1)
}

// newTable allocates a fresh subtable sized to hold twice the table's
// current element count at no more than 3/4 fill, and links it in as the
// new primary ahead of prev (prev may be nil for the very first
// subtable). keepChain tells prev's migration state machine whether fast
// imperfect migration should be able to rely on chain continuity being
// preserved by tombstone writes (see migrate.go).
func newTable(ht *Table, prev *subtable, keepChain bool) *subtable {
	target := (ht.elems * 2 * 4) / 3
	var shift int
	if ht.elems > 0 {
		shift = bits.Len(uint(target)) - 1
		if 1<<shift < target {
			shift++
		}
	}

	nt := &subtable{bits: uint8(shift)}
	nt.slots = make([]slotWord, nt.size())

	if prev != nil {
		nt.commonMask = prev.commonMask
		nt.commonBits = prev.commonBits
		nt.perfectBit = prev.perfectBit
		prev.keepChain = false
		prev.chainSafe = false
		if keepChain && prev.bits >= nt.bits {
			prev.keepChain = true
		}
	} else {
		nt.perfectBit = noPerfectBit
		nt.commonMask = ^uintptr(0)
	}

	ht.tables = append([]*subtable{nt}, ht.tables...)

	// migration proceeds oldest-first, so only the subtable right behind
	// the new primary may still rely on tombstone recreation.
	for _, oth := range ht.tables {
		if oth != nt && oth != prev {
			oth.keepChain = false
		}
	}

	return nt
}

// updateCommon folds p's pointer bits into t's common pattern, narrowing
// commonMask and recomputing the perfect bit. Narrowing commonMask after
// a subtable already has elements would invalidate bits those elements
// rely on being stashed, so in that case a fresh primary is created
// first (this is the only path, besides size/fill thresholds, through
// which Add can prepend another subtable).
func updateCommon(ht *Table, t *subtable, p unsafe.Pointer) *subtable {
	if ht.elems == 0 {
		// De-common exactly one set bit above the tombstone bit, so the
		// lone valid entry can never collide with 0 or the tombstone.
		b := bits.TrailingZeros(uint(uintptr(p) &^ 1))
		t.commonMask = ^(uintptr(1) << b)
		t.commonBits = uintptr(p) & t.commonMask
		t.bits = 0
		t.slots = make([]slotWord, 1)
	} else {
		if t.elems > 0 {
			t = newTable(ht, t, true)
		}
		diff := t.commonBits ^ (t.commonMask & uintptr(p))
		t.commonMask &^= diff
		t.commonBits = uintptr(p) & t.commonMask
	}

	pb := bits.TrailingZeros(uint(t.commonMask &^ 1))
	if pb == wordBits {
		t.perfectBit = noPerfectBit
	} else {
		// perfectMask() computes the flag as 2<<perfectBit, i.e. bit
		// perfectBit+1, so the lowest free common bit (at pb) is stored
		// one position down from pb itself.
		t.perfectBit = uint8(pb - 1)
	}

	return t
}

// tableAdd places p (pre-hashed to hash) into t using linear probing from
// its home bucket. If the home bucket holds an imperfect entry, the new
// element bumps it out (taking the perfect bit) and the displaced entry
// is reinserted further down the chain without it. Tombstones encountered
// while probing are reclaimed.
func tableAdd(t *subtable, hash uintptr, p unsafe.Pointer) {
	perfect := t.perfectMask()
	e := slotWord(t.stash(hash)) | t.ptrToEntry(p)
	mask := t.mask()
	i := t.bucket(hash)

	if isValid(t.slots[i]) && t.slots[i]&slotWord(perfect) == 0 {
		olde := t.slots[i]
		t.slots[i] = e | slotWord(perfect)
		e = olde
		perfect = 0
		i = (i + 1) & mask
	}
	for isValid(t.slots[i]) {
		i = (i + 1) & mask
		perfect = 0
	}

	if t.slots[i] == tombstone {
		t.deleted--
	}
	t.slots[i] = e | slotWord(perfect)
	t.elems++
}
