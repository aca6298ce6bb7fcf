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

import "sort"

const (
	PUT = iota
	DEL = iota
)

type StorageIterator interface {
	Next() bool
	Prefix() []byte
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// StorageDriver is the capability a persistence adapter must provide to back
// workflow queues, hash buckets and actor state. Batch must apply all of its
// operations or none of them.
type StorageDriver interface {
	Open() error
	Close() error
	Recover() error
	Get([][]byte) ([][]byte, error)
	GetMatches([][]byte) (StorageIterator, error)
	Batch(*Batch) error
}

type Op struct {
	OpType  int    `json:"type"`
	OpKey   []byte `json:"key"`
	OpValue []byte `json:"value"`
}

func (o *Op) IsDelete() bool {
	return o.OpType == DEL
}

func (o *Op) IsPut() bool {
	return o.OpType == PUT
}

func (o *Op) Key() []byte {
	return o.OpKey
}

func (o *Op) Value() []byte {
	return o.OpValue
}

type Batch struct {
	BatchOps map[string]Op `json:"ops"`
}

func NewBatch() *Batch {
	return &Batch{make(map[string]Op)}
}

func (batch *Batch) Size() int {
	return len(batch.BatchOps)
}

func (batch *Batch) Put(key []byte, value []byte) *Batch {
	batch.BatchOps[string(key)] = Op{PUT, key, value}

	return batch
}

func (batch *Batch) Delete(key []byte) *Batch {
	batch.BatchOps[string(key)] = Op{DEL, key, nil}

	return batch
}

func (batch *Batch) Ops() map[string]Op {
	return batch.BatchOps
}

// SortedOps returns the operations in ascending key order
func (batch *Batch) SortedOps() []Op {
	opList := make([]Op, 0, len(batch.BatchOps))

	for _, op := range batch.BatchOps {
		opList = append(opList, op)
	}

	sort.Slice(opList, func(i, j int) bool {
		return string(opList[i].OpKey) < string(opList[j].OpKey)
	})

	return opList
}

// consolidateKeys sorts the prefixes and drops any prefix that is covered by
// a shorter one so that no key is visited twice.
func consolidateKeys(keys [][]byte) [][]byte {
	if keys == nil {
		return [][]byte{}
	}

	s := make([]string, 0, len(keys))

	for _, key := range keys {
		if key == nil {
			continue
		}

		s = append(s, string(key))
	}

	sort.Strings(s)

	result := make([][]byte, 0, len(s))

	for i := 0; i < len(s); i += 1 {
		if len(result) > 0 && len(s[i]) >= len(result[len(result)-1]) && s[i][:len(result[len(result)-1])] == string(result[len(result)-1]) {
			continue
		}

		result = append(result, []byte(s[i]))
	}

	return result
}
