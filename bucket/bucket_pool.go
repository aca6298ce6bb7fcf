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
	"sort"
	"sync"

	. "github.com/PelionIoT/indexflow/logging"
)

// BucketPool lazily creates and loads the buckets of one index. It is the
// chain resolver of every bucket it creates.
type BucketPool struct {
	BucketFactory BucketFactory
	lock          sync.Mutex
	buckets       map[string]*HashBucket
}

func NewBucketPool(bucketFactory BucketFactory) *BucketPool {
	return &BucketPool{
		BucketFactory: bucketFactory,
		buckets:       make(map[string]*HashBucket),
	}
}

func (bucketPool *BucketPool) Acquire(bucketID string) (*HashBucket, error) {
	bucketPool.lock.Lock()
	defer bucketPool.lock.Unlock()

	if bucket, ok := bucketPool.buckets[bucketID]; ok {
		return bucket, nil
	}

	bucket := bucketPool.BucketFactory.CreateBucket(bucketID, bucketPool)

	if err := bucket.Load(); err != nil {
		Log.Errorf("Unable to load bucket %s: %v", bucketID, err)

		bucket.Close()

		return nil, err
	}

	bucketPool.buckets[bucketID] = bucket

	return bucket, nil
}

// Get returns a bucket only if it was already acquired
func (bucketPool *BucketPool) Get(bucketID string) (*HashBucket, bool) {
	bucketPool.lock.Lock()
	defer bucketPool.lock.Unlock()

	bucket, ok := bucketPool.buckets[bucketID]

	return bucket, ok
}

func (bucketPool *BucketPool) Remove(bucketID string) {
	bucketPool.lock.Lock()
	bucket, ok := bucketPool.buckets[bucketID]
	delete(bucketPool.buckets, bucketID)
	bucketPool.lock.Unlock()

	if ok {
		bucket.Close()
	}
}

func (bucketPool *BucketPool) IDs() []string {
	bucketPool.lock.Lock()
	defer bucketPool.lock.Unlock()

	ids := make([]string, 0, len(bucketPool.buckets))

	for id, _ := range bucketPool.buckets {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (bucketPool *BucketPool) Close() {
	bucketPool.lock.Lock()
	buckets := bucketPool.buckets
	bucketPool.buckets = make(map[string]*HashBucket)
	bucketPool.lock.Unlock()

	for _, bucket := range buckets {
		bucket.Close()
	}
}
