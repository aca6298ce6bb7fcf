package bucket

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"fmt"
	"sort"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/update"
)

type BucketStatus int

const (
	UnderConstruction BucketStatus = iota
	Available         BucketStatus = iota
	Disposed          BucketStatus = iota
)

func (status BucketStatus) String() string {
	switch status {
	case UnderConstruction:
		return "under-construction"
	case Available:
		return "available"
	case Disposed:
		return "disposed"
	}

	return fmt.Sprintf("BucketStatus(%d)", int(status))
}

// HashIndexBucket is one unit of hash index storage. A nil error is success.
type HashIndexBucket interface {
	ID() string
	ApplyUpdate(targetActor ActorRef, memberUpdate MemberUpdate, isUniqueIndex bool) error
	ApplyUpdateBatch(updates map[ActorRef][]MemberUpdate, isUniqueIndex bool) error
	Lookup(key string) ([]ActorRef, error)
	LookupUnique(key string) (ActorRef, error)
	Dispose() error
	IsAvailable() bool
}

// BucketEntry holds the actors under one key. Pending records the actors
// whose claim on the key is tentative, by the kind of the unconfirmed change.
// IsTentative is set while any claim is pending and hides the entry from
// lookups.
type BucketEntry struct {
	Values      map[ActorRef]bool          `json:"values"`
	Pending     map[ActorRef]OperationKind `json:"pending,omitempty"`
	IsTentative bool                       `json:"tentative"`
}

func newBucketEntry() *BucketEntry {
	return &BucketEntry{Values: make(map[ActorRef]bool)}
}

func (entry *BucketEntry) clone() *BucketEntry {
	clone := &BucketEntry{
		Values:      make(map[ActorRef]bool, len(entry.Values)),
		IsTentative: entry.IsTentative,
	}

	for value, _ := range entry.Values {
		clone.Values[value] = true
	}

	if len(entry.Pending) > 0 {
		clone.Pending = make(map[ActorRef]OperationKind, len(entry.Pending))

		for value, kind := range entry.Pending {
			clone.Pending[value] = kind
		}
	}

	return clone
}

func (entry *BucketEntry) hasValueOtherThan(actor ActorRef) bool {
	for value, _ := range entry.Values {
		if value != actor {
			return true
		}
	}

	return false
}

// hasSettledValueOtherThan reports whether another actor holds the key with
// no unconfirmed change pending
func (entry *BucketEntry) hasSettledValueOtherThan(actor ActorRef) bool {
	for value, _ := range entry.Values {
		if _, pending := entry.Pending[value]; value != actor && !pending {
			return true
		}
	}

	return false
}

// holdsCommitted reports whether actor held the key before any change of its
// own that is still pending
func (entry *BucketEntry) holdsCommitted(actor ActorRef) bool {
	kind, pending := entry.Pending[actor]

	return entry.Values[actor] && (!pending || kind == OperationDelete)
}

func (entry *BucketEntry) markPending(actor ActorRef, kind OperationKind) {
	if entry.Pending == nil {
		entry.Pending = make(map[ActorRef]OperationKind)
	}

	entry.Pending[actor] = kind
	entry.IsTentative = true
}

func (entry *BucketEntry) settle(actor ActorRef) {
	delete(entry.Pending, actor)

	entry.IsTentative = len(entry.Pending) > 0
}

// SortedValues returns the actors in this entry in ascending order
func (entry *BucketEntry) SortedValues() []ActorRef {
	values := make([]ActorRef, 0, len(entry.Values))

	for value, _ := range entry.Values {
		values = append(values, value)
	}

	sort.Slice(values, func(i, j int) bool {
		return values[i] < values[j]
	})

	return values
}
