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
	"fmt"
)

// NamespacePrefix returns the key prefix that isolates the keys of one owner
// (a queue partition, a bucket, the actors of a type) inside a shared driver.
// The id is length prefixed so that no owner prefix is a prefix of another.
func NamespacePrefix(namespace string, id string) []byte {
	return []byte(fmt.Sprintf("%s.%d.%s.", namespace, len(id), id))
}

// PrefixedStorageDriver exposes the keys under one prefix of a shared driver
// as if they were a database of their own. Open and Close are no-ops since
// the shared driver belongs to whoever created it.
type PrefixedStorageDriver struct {
	prefix        []byte
	storageDriver StorageDriver
}

func NewPrefixedStorageDriver(prefix []byte, storageDriver StorageDriver) *PrefixedStorageDriver {
	return &PrefixedStorageDriver{prefix, storageDriver}
}

// NewNamespacedStorageDriver scopes storageDriver to the keys owned by id
// within namespace.
func NewNamespacedStorageDriver(namespace string, id string, storageDriver StorageDriver) *PrefixedStorageDriver {
	return NewPrefixedStorageDriver(NamespacePrefix(namespace, id), storageDriver)
}

func (psd *PrefixedStorageDriver) Open() error {
	return nil
}

func (psd *PrefixedStorageDriver) Close() error {
	return nil
}

func (psd *PrefixedStorageDriver) Recover() error {
	return psd.storageDriver.Recover()
}

func (psd *PrefixedStorageDriver) scope(keys [][]byte) [][]byte {
	scoped := make([][]byte, len(keys))

	for i, key := range keys {
		if key == nil {
			continue
		}

		scoped[i] = make([]byte, 0, len(psd.prefix)+len(key))
		scoped[i] = append(scoped[i], psd.prefix...)
		scoped[i] = append(scoped[i], key...)
	}

	return scoped
}

func (psd *PrefixedStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	return psd.storageDriver.Get(psd.scope(keys))
}

func (psd *PrefixedStorageDriver) GetMatches(keys [][]byte) (StorageIterator, error) {
	iter, err := psd.storageDriver.GetMatches(psd.scope(keys))

	if err != nil {
		return nil, err
	}

	return &prefixedIterator{prefixLength: len(psd.prefix), iterator: iter}, nil
}

func (psd *PrefixedStorageDriver) Batch(batch *Batch) error {
	if batch == nil {
		return nil
	}

	scoped := NewBatch()

	for _, op := range batch.Ops() {
		op.OpKey = psd.scope([][]byte{op.OpKey})[0]
		scoped.BatchOps[string(op.OpKey)] = op
	}

	return psd.storageDriver.Batch(scoped)
}

// prefixedIterator strips the owner prefix from the keys and prefixes it
// returns.
type prefixedIterator struct {
	prefixLength int
	iterator     StorageIterator
}

func (iter *prefixedIterator) Next() bool {
	return iter.iterator.Next()
}

func (iter *prefixedIterator) unscope(key []byte) []byte {
	if len(key) < iter.prefixLength {
		return nil
	}

	return key[iter.prefixLength:]
}

func (iter *prefixedIterator) Prefix() []byte {
	return iter.unscope(iter.iterator.Prefix())
}

func (iter *prefixedIterator) Key() []byte {
	return iter.unscope(iter.iterator.Key())
}

func (iter *prefixedIterator) Value() []byte {
	return iter.iterator.Value()
}

func (iter *prefixedIterator) Release() {
	iter.iterator.Release()
}

func (iter *prefixedIterator) Error() error {
	return iter.iterator.Error()
}
