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
	"encoding/json"
	"sort"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/mailbox"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/update"
)

var (
	entryPrefix       = []byte("e.")
	successorMetaKey  = []byte("meta.successor")
	disposedMetaKey   = []byte("meta.disposed")
	disposedMetaValue = []byte("1")
)

func entryKey(key string) []byte {
	return append(append([]byte{}, entryPrefix...), []byte(key)...)
}

// BucketResolver hands out the successor buckets of a chain
type BucketResolver interface {
	Acquire(bucketID string) (*HashBucket, error)
}

// HashBucket is a HashIndexBucket whose operations run one at a time on its
// own mailbox. When MaxEntries is positive, keys that do not fit are
// forwarded to a successor bucket obtained from the chain resolver.
type HashBucket struct {
	id            string
	maxEntries    int
	storageDriver StorageDriver
	chain         BucketResolver
	mailbox       *mailbox.Mailbox
	entries       map[string]*BucketEntry
	status        BucketStatus
	successorID   string
}

// NewHashBucket creates a bucket in the UnderConstruction state. storageDriver
// may be nil for a purely in-memory bucket. It becomes available after Load.
func NewHashBucket(id string, maxEntries int, storageDriver StorageDriver, chain BucketResolver) *HashBucket {
	return &HashBucket{
		id:            id,
		maxEntries:    maxEntries,
		storageDriver: storageDriver,
		chain:         chain,
		mailbox:       mailbox.New(),
		entries:       make(map[string]*BucketEntry),
		status:        UnderConstruction,
	}
}

func (bucket *HashBucket) ID() string {
	return bucket.id
}

// Load restores the persisted entries and makes the bucket available. A
// bucket that was disposed before a restart stays disposed.
func (bucket *HashBucket) Load() error {
	return bucket.mailbox.Call(func() error {
		if bucket.status != UnderConstruction {
			return nil
		}

		if bucket.storageDriver == nil {
			bucket.status = Available

			return nil
		}

		meta, err := bucket.storageDriver.Get([][]byte{successorMetaKey, disposedMetaKey})

		if err != nil {
			Log.Errorf("Unable to load metadata of bucket %s: %v", bucket.id, err)

			return EStorage
		}

		if meta[1] != nil {
			bucket.status = Disposed

			return nil
		}

		if meta[0] != nil {
			bucket.successorID = string(meta[0])
		}

		iter, err := bucket.storageDriver.GetMatches([][]byte{entryPrefix})

		if err != nil {
			Log.Errorf("Unable to load entries of bucket %s: %v", bucket.id, err)

			return EStorage
		}

		defer iter.Release()

		entries := make(map[string]*BucketEntry)

		for iter.Next() {
			var entry BucketEntry

			if err := json.Unmarshal(iter.Value(), &entry); err != nil {
				Log.Errorf("Bucket %s contains a corrupted entry at key %s: %v", bucket.id, string(iter.Key()), err)

				return ECorrupted
			}

			if entry.Values == nil {
				entry.Values = make(map[ActorRef]bool)
			}

			entries[string(iter.Key()[len(entryPrefix):])] = &entry
		}

		if iter.Error() != nil {
			Log.Errorf("Unable to load entries of bucket %s: %v", bucket.id, iter.Error())

			return EStorage
		}

		bucket.entries = entries
		bucket.status = Available

		Log.Debugf("Loaded bucket %s with %d entries", bucket.id, len(entries))

		return nil
	})
}

func (bucket *HashBucket) checkAvailable() error {
	switch bucket.status {
	case Available:
		return nil
	case Disposed:
		return EDisposed
	}

	return EIndexUnavailable
}

func (bucket *HashBucket) ApplyUpdate(targetActor ActorRef, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	err := bucket.mailbox.Call(func() error {
		return bucket.applyUpdate(targetActor, memberUpdate, isUniqueIndex)
	})

	prometheusRecordBucketUpdate(memberUpdate.OperationKind().String(), err)

	return err
}

// ApplyUpdateBatch applies the updates of each actor in list order. A failure
// stops the remaining updates of that actor only. Updates already applied are
// kept and the first error is returned.
func (bucket *HashBucket) ApplyUpdateBatch(updates map[ActorRef][]MemberUpdate, isUniqueIndex bool) error {
	actors := make([]ActorRef, 0, len(updates))

	for actor, _ := range updates {
		actors = append(actors, actor)
	}

	sort.Slice(actors, func(i, j int) bool {
		return actors[i] < actors[j]
	})

	return bucket.mailbox.Call(func() error {
		var firstError error

		for _, actor := range actors {
			for _, memberUpdate := range updates[actor] {
				err := bucket.applyUpdate(actor, memberUpdate, isUniqueIndex)

				prometheusRecordBucketUpdate(memberUpdate.OperationKind().String(), err)

				if err != nil {
					Log.Warningf("Batch update of actor %s in bucket %s failed: %v", actor, bucket.id, err)

					if firstError == nil {
						firstError = err
					}

					break
				}
			}
		}

		return firstError
	})
}

func (bucket *HashBucket) applyUpdate(targetActor ActorRef, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	if err := bucket.checkAvailable(); err != nil {
		return err
	}

	if !memberUpdate.Validate() {
		return EInvalidUpdate
	}

	mode := memberUpdate.UpdateMode()

	switch memberUpdate.OperationKind() {
	case OperationInsert:
		return bucket.insert(targetActor, *memberUpdate.AfterImage(), memberUpdate, isUniqueIndex)
	case OperationDelete:
		return bucket.delete(targetActor, *memberUpdate.BeforeImage(), memberUpdate, isUniqueIndex)
	case OperationUpdate:
		return bucket.update(targetActor, *memberUpdate.BeforeImage(), *memberUpdate.AfterImage(), mode, memberUpdate, isUniqueIndex)
	}

	return nil
}

func (bucket *HashBucket) insert(targetActor ActorRef, key string, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	local, err := bucket.insertIsLocal(key)

	if err != nil {
		return err
	}

	if !local {
		return bucket.forward(targetActor, OverrideKind(memberUpdate, OperationInsert), isUniqueIndex)
	}

	staged := make(map[string]*BucketEntry)

	if err := bucket.stageInsert(staged, key, targetActor, memberUpdate.UpdateMode(), isUniqueIndex); err != nil {
		return err
	}

	return bucket.commit(staged)
}

func (bucket *HashBucket) delete(targetActor ActorRef, key string, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	if _, ok := bucket.entries[key]; !ok {
		if bucket.successorID != "" {
			return bucket.forward(targetActor, OverrideKind(memberUpdate, OperationDelete), isUniqueIndex)
		}

		return nil
	}

	staged := make(map[string]*BucketEntry)

	bucket.stageDelete(staged, key, targetActor, memberUpdate.UpdateMode())

	return bucket.commit(staged)
}

// update removes the actor from the before key and adds it to the after key.
// When both keys live in this bucket the two steps are staged and committed
// together. Otherwise the insert is applied first so that a uniqueness
// violation leaves both keys untouched, and a failed delete restores the
// inserted entry.
func (bucket *HashBucket) update(targetActor ActorRef, before string, after string, mode UpdateMode, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	_, deleteIsLocal := bucket.entries[before]

	if !deleteIsLocal && bucket.successorID == "" {
		deleteIsLocal = true
	}

	insertIsLocal, err := bucket.insertIsLocal(after)

	if err != nil {
		return err
	}

	if deleteIsLocal && insertIsLocal {
		staged := make(map[string]*BucketEntry)

		bucket.stageDelete(staged, before, targetActor, mode)

		if err := bucket.stageInsert(staged, after, targetActor, mode, isUniqueIndex); err != nil {
			return err
		}

		return bucket.commit(staged)
	}

	var previous *BucketEntry

	if insertIsLocal {
		if entry, ok := bucket.entries[after]; ok {
			previous = entry.clone()
		}

		if err := bucket.insert(targetActor, after, memberUpdate, isUniqueIndex); err != nil {
			return err
		}
	} else if err := bucket.forward(targetActor, OverrideKind(memberUpdate, OperationInsert), isUniqueIndex); err != nil {
		return err
	}

	var deleteError error

	if deleteIsLocal {
		deleteError = bucket.delete(targetActor, before, memberUpdate, isUniqueIndex)
	} else {
		deleteError = bucket.forward(targetActor, OverrideKind(memberUpdate, OperationDelete), isUniqueIndex)
	}

	if deleteError == nil {
		return nil
	}

	Log.Warningf("Update of actor %s in bucket %s could not remove key %s: %v. Undoing the insert of key %s", targetActor, bucket.id, before, deleteError, after)

	if insertIsLocal {
		if err := bucket.commit(map[string]*BucketEntry{after: previous}); err != nil {
			Log.Errorf("Unable to undo the insert of key %s in bucket %s: %v", after, bucket.id, err)
		}
	} else if err := bucket.forward(targetActor, OverrideMode(OverrideKind(Reverse(memberUpdate), OperationDelete), NonTentative), isUniqueIndex); err != nil {
		Log.Errorf("Unable to undo the insert of key %s in the successor of bucket %s: %v", after, bucket.id, err)
	}

	return deleteError
}

// insertIsLocal decides which bucket of the chain holds a new claim on key.
// Keys already held stay where they are. New keys go to this bucket while it
// has room and are forwarded otherwise.
func (bucket *HashBucket) insertIsLocal(key string) (bool, error) {
	if bucket.maxEntries <= 0 || bucket.chain == nil {
		return true, nil
	}

	if _, ok := bucket.entries[key]; ok {
		return true, nil
	}

	if bucket.successorID != "" {
		successor, err := bucket.chain.Acquire(bucket.successorID)

		if err != nil {
			return false, err
		}

		holds, err := successor.holds(key)

		if err != nil {
			return false, err
		}

		if holds {
			return false, nil
		}
	}

	return len(bucket.entries) < bucket.maxEntries, nil
}

func (bucket *HashBucket) forward(targetActor ActorRef, memberUpdate MemberUpdate, isUniqueIndex bool) error {
	successor, err := bucket.ensureSuccessor()

	if err != nil {
		return err
	}

	Log.Debugf("Bucket %s forwards %v of actor %s to %s", bucket.id, memberUpdate, targetActor, successor.ID())

	return successor.ApplyUpdate(targetActor, memberUpdate, isUniqueIndex)
}

func (bucket *HashBucket) ensureSuccessor() (*HashBucket, error) {
	if bucket.chain == nil {
		return nil, EIndexUnavailable
	}

	if bucket.successorID == "" {
		successorID := NextChainedBucketID(bucket.id)

		if bucket.storageDriver != nil {
			if err := bucket.storageDriver.Batch(NewBatch().Put(successorMetaKey, []byte(successorID))); err != nil {
				Log.Errorf("Unable to record successor %s of bucket %s: %v", successorID, bucket.id, err)

				return nil, EStorage
			}
		}

		bucket.successorID = successorID

		Log.Infof("Bucket %s is full. Chaining to successor %s", bucket.id, successorID)
	}

	return bucket.chain.Acquire(bucket.successorID)
}

// holds reports whether key has an entry in this bucket or further down the
// chain
func (bucket *HashBucket) holds(key string) (bool, error) {
	var successorID string
	var found bool

	err := bucket.mailbox.Call(func() error {
		if err := bucket.checkAvailable(); err != nil {
			return err
		}

		_, found = bucket.entries[key]
		successorID = bucket.successorID

		return nil
	})

	if err != nil || found || successorID == "" || bucket.chain == nil {
		return found, err
	}

	successor, err := bucket.chain.Acquire(successorID)

	if err != nil {
		return false, err
	}

	return successor.holds(key)
}

func (bucket *HashBucket) stagedEntry(staged map[string]*BucketEntry, key string) *BucketEntry {
	if entry, ok := staged[key]; ok {
		return entry
	}

	return bucket.entries[key]
}

// stageInsert adds targetActor to key. On a unique index a tentative claim
// is refused while another actor holds the key with nothing pending, and a
// confirmed claim is refused while any other actor holds the key. An actor
// that held the key before its own pending delete may always take it back.
func (bucket *HashBucket) stageInsert(staged map[string]*BucketEntry, key string, targetActor ActorRef, mode UpdateMode, isUniqueIndex bool) error {
	current := bucket.stagedEntry(staged, key)

	if current == nil {
		current = newBucketEntry()
	}

	if isUniqueIndex {
		if mode == Tentative && current.hasSettledValueOtherThan(targetActor) {
			return EUniquenessViolation
		}

		if mode != Tentative && !current.holdsCommitted(targetActor) && current.hasValueOtherThan(targetActor) {
			return EUniquenessViolation
		}
	}

	entry := current.clone()
	entry.Values[targetActor] = true

	if mode == Tentative {
		entry.markPending(targetActor, OperationInsert)
	} else {
		entry.settle(targetActor)
	}

	staged[key] = entry

	return nil
}

// stageDelete is a no-op when the actor holds no claim on key. A tentative
// delete keeps the value but hides the entry until it is confirmed or reversed.
func (bucket *HashBucket) stageDelete(staged map[string]*BucketEntry, key string, targetActor ActorRef, mode UpdateMode) {
	current := bucket.stagedEntry(staged, key)

	if current == nil || !current.Values[targetActor] {
		return
	}

	entry := current.clone()

	if mode == Tentative {
		entry.markPending(targetActor, OperationDelete)
		staged[key] = entry

		return
	}

	delete(entry.Values, targetActor)
	entry.settle(targetActor)

	if len(entry.Values) == 0 {
		staged[key] = nil

		return
	}

	staged[key] = entry
}

// commit writes the staged entries before installing them in memory. A nil
// entry removes the key.
func (bucket *HashBucket) commit(staged map[string]*BucketEntry) error {
	if bucket.storageDriver != nil {
		batch := NewBatch()

		for key, entry := range staged {
			if entry == nil {
				batch.Delete(entryKey(key))

				continue
			}

			encodedEntry, err := json.Marshal(entry)

			if err != nil {
				return err
			}

			batch.Put(entryKey(key), encodedEntry)
		}

		if err := bucket.storageDriver.Batch(batch); err != nil {
			Log.Errorf("Unable to persist update to bucket %s: %v", bucket.id, err)

			return EStorage
		}
	}

	for key, entry := range staged {
		if entry == nil {
			delete(bucket.entries, key)
		} else {
			bucket.entries[key] = entry
		}
	}

	return nil
}

// Lookup returns the actors holding key in this bucket only. Tentative
// entries are not visible.
func (bucket *HashBucket) Lookup(key string) ([]ActorRef, error) {
	var result []ActorRef

	err := bucket.mailbox.Call(func() error {
		if err := bucket.checkAvailable(); err != nil {
			return err
		}

		result = []ActorRef{}

		if entry, ok := bucket.entries[key]; ok && !entry.IsTentative {
			result = entry.SortedValues()
		}

		return nil
	})

	return result, err
}

func (bucket *HashBucket) LookupUnique(key string) (ActorRef, error) {
	values, err := bucket.Lookup(key)

	if err != nil {
		return "", err
	}

	switch len(values) {
	case 0:
		return "", ENotFound
	case 1:
		return values[0], nil
	}

	return "", EMultipleValues
}

// Dispose clears the bucket and every successor in its chain. Disposing a
// disposed bucket fails with EDisposed and changes nothing.
func (bucket *HashBucket) Dispose() error {
	var successorID string

	err := bucket.mailbox.Call(func() error {
		if bucket.status == Disposed {
			return EDisposed
		}

		if bucket.storageDriver != nil {
			batch := NewBatch()

			for key, _ := range bucket.entries {
				batch.Delete(entryKey(key))
			}

			batch.Put(disposedMetaKey, disposedMetaValue)

			if err := bucket.storageDriver.Batch(batch); err != nil {
				Log.Errorf("Unable to dispose bucket %s: %v", bucket.id, err)

				return EStorage
			}
		}

		bucket.entries = make(map[string]*BucketEntry)
		bucket.status = Disposed
		successorID = bucket.successorID

		Log.Infof("Disposed bucket %s", bucket.id)

		return nil
	})

	if err != nil || successorID == "" || bucket.chain == nil {
		return err
	}

	successor, err := bucket.chain.Acquire(successorID)

	if err != nil {
		return err
	}

	if err := successor.Dispose(); err != nil && err != EDisposed {
		return err
	}

	return nil
}

func (bucket *HashBucket) IsAvailable() bool {
	return bucket.Status() == Available
}

func (bucket *HashBucket) Status() BucketStatus {
	var status BucketStatus = Disposed

	bucket.mailbox.Call(func() error {
		status = bucket.status

		return nil
	})

	return status
}

// Size returns the number of keys held by this bucket, excluding successors
func (bucket *HashBucket) Size() int {
	var size int

	bucket.mailbox.Call(func() error {
		size = len(bucket.entries)

		return nil
	})

	return size
}

// Successor returns the next bucket of the chain or nil if there is none
func (bucket *HashBucket) Successor() (*HashBucket, error) {
	var successorID string

	bucket.mailbox.Call(func() error {
		successorID = bucket.successorID

		return nil
	})

	if successorID == "" || bucket.chain == nil {
		return nil, nil
	}

	return bucket.chain.Acquire(successorID)
}

// Close stops the bucket's mailbox. Calls made afterwards fail with
// EQueueClosed.
func (bucket *HashBucket) Close() {
	bucket.mailbox.Close()
}
