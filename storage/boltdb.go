package storage

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
	"bytes"

	. "github.com/PelionIoT/indexflow/logging"

	bolt "go.etcd.io/bbolt"
)

type boltEntry struct {
	prefix []byte
	key    []byte
	value  []byte
}

// BoltDBStorageIterator walks a copy of the matching entries taken inside a
// single read transaction so it stays valid after the transaction closes.
type BoltDBStorageIterator struct {
	entries []boltEntry
	current int
}

func (iter *BoltDBStorageIterator) Next() bool {
	if iter.current+1 >= len(iter.entries) {
		iter.current = len(iter.entries)

		return false
	}

	iter.current++

	return true
}

func (iter *BoltDBStorageIterator) valid() bool {
	return iter.current >= 0 && iter.current < len(iter.entries)
}

func (iter *BoltDBStorageIterator) Prefix() []byte {
	if !iter.valid() {
		return nil
	}

	return iter.entries[iter.current].prefix
}

func (iter *BoltDBStorageIterator) Key() []byte {
	if !iter.valid() {
		return nil
	}

	return iter.entries[iter.current].key
}

func (iter *BoltDBStorageIterator) Value() []byte {
	if !iter.valid() {
		return nil
	}

	return iter.entries[iter.current].value
}

func (iter *BoltDBStorageIterator) Release() {
	iter.entries = nil
	iter.current = 0
}

func (iter *BoltDBStorageIterator) Error() error {
	return nil
}

type BoltDBStorageDriver struct {
	file       string
	rootBucket []byte
	options    *bolt.Options
	db         *bolt.DB
}

func NewBoltDBStorageDriver(file string, rootBucket string, options *bolt.Options) *BoltDBStorageDriver {
	return &BoltDBStorageDriver{file, []byte(rootBucket), options, nil}
}

func (driver *BoltDBStorageDriver) Open() error {
	driver.Close()

	db, err := bolt.Open(driver.file, 0666, driver.options)

	if err != nil {
		prometheusRecordStorageError("open()", driver.file)

		Log.Errorf("Unable to open BoltDB database at %s: %v", driver.file, err)

		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(driver.rootBucket)

		return err
	})

	if err != nil {
		prometheusRecordStorageError("open()", driver.file)

		db.Close()

		return err
	}

	driver.db = db

	return nil
}

func (driver *BoltDBStorageDriver) Close() error {
	if driver.db == nil {
		return nil
	}

	err := driver.db.Close()

	driver.db = nil

	return err
}

// Recover reopens the database. BoltDB validates its pages on open so there is
// no separate repair step.
func (driver *BoltDBStorageDriver) Recover() error {
	return driver.Open()
}

func (driver *BoltDBStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	if driver.db == nil {
		return nil, errDriverClosed
	}

	values := make([][]byte, len(keys))

	err := driver.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(driver.rootBucket)

		for i, key := range keys {
			if key == nil {
				continue
			}

			if value := bucket.Get(key); value != nil {
				values[i] = append([]byte{}, value...)
			}
		}

		return nil
	})

	if err != nil {
		prometheusRecordStorageError("get()", driver.file)

		return nil, err
	}

	return values, nil
}

func (driver *BoltDBStorageDriver) GetMatches(keys [][]byte) (StorageIterator, error) {
	if driver.db == nil {
		return nil, errDriverClosed
	}

	iter := &BoltDBStorageIterator{entries: []boltEntry{}, current: -1}

	err := driver.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(driver.rootBucket).Cursor()

		for _, prefix := range consolidateKeys(keys) {
			for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
				iter.entries = append(iter.entries, boltEntry{
					prefix: prefix,
					key:    append([]byte{}, k...),
					value:  append([]byte{}, v...),
				})
			}
		}

		return nil
	})

	if err != nil {
		prometheusRecordStorageError("getMatches()", driver.file)

		return nil, err
	}

	return iter, nil
}

func (driver *BoltDBStorageDriver) Batch(batch *Batch) error {
	if driver.db == nil {
		return errDriverClosed
	}

	if batch == nil {
		return nil
	}

	err := driver.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(driver.rootBucket)

		for _, op := range batch.SortedOps() {
			var err error

			if op.IsPut() {
				err = bucket.Put(op.Key(), op.Value())
			} else if op.IsDelete() {
				err = bucket.Delete(op.Key())
			}

			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		prometheusRecordStorageError("batch()", driver.file)
	}

	return err
}
