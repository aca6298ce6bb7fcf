package util

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
	"sync"
)

const multiLockPartitions = 1024

// MultiLock serializes callers that lock the same partitioning key while
// letting callers with other keys proceed. Two keys may share a partition so
// a holder must never lock a second key.
type MultiLock struct {
	mutexes []sync.Mutex
}

func NewMultiLock() *MultiLock {
	return &MultiLock{
		mutexes: make([]sync.Mutex, multiLockPartitions),
	}
}

func (multiLock *MultiLock) partition(partitioningKey []byte) uint64 {
	return Slot(partitioningKey, uint64(len(multiLock.mutexes)))
}

func (multiLock *MultiLock) Lock(partitioningKey []byte) {
	multiLock.mutexes[multiLock.partition(partitioningKey)].Lock()
}

func (multiLock *MultiLock) Unlock(partitioningKey []byte) {
	multiLock.mutexes[multiLock.partition(partitioningKey)].Unlock()
}
