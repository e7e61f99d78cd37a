// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package pht implements a progressively rehashed, open-addressed hash
// multiset over unsafe.Pointer-valued elements.
//
// Unlike a conventional open-addressed table, pht never performs a
// stop-the-world grow-and-rehash. When a resize is triggered, a new empty
// subtable is prepended and becomes the sole insertion target (the
// "primary"); every other subtable ("secondary") is drained into it a
// few entries at a time by every subsequent Add, bounding the worst-case
// cost of any single call while keeping amortized behavior and load
// factor competitive with a normal table.
//
// pht is not safe for concurrent use, does not own the lifetime of the
// elements it stores (see the Table doc comment), and does not support
// the zero pointer as an element.
package pht
