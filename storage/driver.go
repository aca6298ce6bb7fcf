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

const (
	LevelDBEngine = "leveldb"
	BoltDBEngine  = "boltdb"
)

// NewStorageDriver returns an unopened driver for the named engine. Unknown
// engines are rejected here so a misconfigured server fails before it starts
// accepting work.
func NewStorageDriver(engine string, path string) (StorageDriver, error) {
	switch engine {
	case "", LevelDBEngine:
		return NewLevelDBStorageDriver(path, nil), nil
	case BoltDBEngine:
		return NewBoltDBStorageDriver(path, "indexflow", nil), nil
	}

	return nil, fmt.Errorf("%s is not a supported storage engine. Supported engines are %s and %s", engine, LevelDBEngine, BoltDBEngine)
}
