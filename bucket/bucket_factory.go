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
	"strconv"
	"strings"

	. "github.com/PelionIoT/indexflow/storage"
)

const chainSeparator = "#"
const bucketNamespace = "bucket"

// ChainedBucketID names the bucket at position chainIndex of the chain that
// starts at rootID. Position 0 is the root itself.
func ChainedBucketID(rootID string, chainIndex int) string {
	if chainIndex <= 0 {
		return rootID
	}

	return fmt.Sprintf("%s%s%d", rootID, chainSeparator, chainIndex)
}

// ParseBucketID splits a bucket id into its chain root and chain position
func ParseBucketID(bucketID string) (string, int) {
	separatorIndex := strings.LastIndex(bucketID, chainSeparator)

	if separatorIndex < 0 {
		return bucketID, 0
	}

	chainIndex, err := strconv.Atoi(bucketID[separatorIndex+1:])

	if err != nil || chainIndex <= 0 {
		return bucketID, 0
	}

	return bucketID[:separatorIndex], chainIndex
}

func NextChainedBucketID(bucketID string) string {
	rootID, chainIndex := ParseBucketID(bucketID)

	return ChainedBucketID(rootID, chainIndex+1)
}

type BucketFactory interface {
	CreateBucket(bucketID string, chain BucketResolver) *HashBucket
}

// HashBucketFactory creates the buckets of one index. Each bucket persists
// under its own namespace of the shared storage driver. A nil StorageDriver
// creates in-memory buckets.
type HashBucketFactory struct {
	StorageDriver StorageDriver
	MaxEntries    int
}

func (hashBucketFactory *HashBucketFactory) CreateBucket(bucketID string, chain BucketResolver) *HashBucket {
	var storageDriver StorageDriver

	if hashBucketFactory.StorageDriver != nil {
		storageDriver = NewNamespacedStorageDriver(bucketNamespace, bucketID, hashBucketFactory.StorageDriver)
	}

	return NewHashBucket(bucketID, hashBucketFactory.MaxEntries, storageDriver, chain)
}
