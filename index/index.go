package index

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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type IndexKind int

const (
	SingleBucket      IndexKind = iota
	ChainedPerKeyHash IndexKind = iota
	PerHost           IndexKind = iota
)

func (kind IndexKind) String() string {
	switch kind {
	case SingleBucket:
		return "single"
	case ChainedPerKeyHash:
		return "chained"
	case PerHost:
		return "perhost"
	}

	return fmt.Sprintf("IndexKind(%d)", int(kind))
}

func ParseIndexKind(kind string) (IndexKind, error) {
	switch kind {
	case "single", "":
		return SingleBucket, nil
	case "chained":
		return ChainedPerKeyHash, nil
	case "perhost":
		return PerHost, nil
	}

	return SingleBucket, fmt.Errorf("%s is not a valid index kind. Use one of single, chained or perhost", kind)
}

// IndexDescriptor describes one hash index over one attribute of one actor
// type. Buckets is the number of key hash partitions of a chained index and
// MaxBucketEntries the number of keys a bucket holds before it chains to a
// successor. Zero means unbounded.
type IndexDescriptor struct {
	TypeName         string
	Name             string
	Attribute        string
	Kind             IndexKind
	Unique           bool
	Eager            bool
	Buckets          int
	MaxBucketEntries int
}

const reservedIndexNameCharacters = "/#@"

var (
	errEmptyIndexName     = errors.New("Index name must not be empty")
	errEmptyTypeName      = errors.New("Index type must not be empty")
	errEmptyAttributeName = errors.New("Index attribute must not be empty")
)

func (descriptor IndexDescriptor) Validate() error {
	if descriptor.Name == "" {
		return errEmptyIndexName
	}

	if strings.ContainsAny(descriptor.Name, reservedIndexNameCharacters) {
		return fmt.Errorf("Index name %s must not contain any of %s", descriptor.Name, reservedIndexNameCharacters)
	}

	if descriptor.TypeName == "" {
		return errEmptyTypeName
	}

	if descriptor.Attribute == "" {
		return errEmptyAttributeName
	}

	if descriptor.Kind < SingleBucket || descriptor.Kind > PerHost {
		return fmt.Errorf("Index %s has an invalid kind", descriptor.Name)
	}

	if descriptor.Buckets < 0 {
		return fmt.Errorf("Index %s must have a positive number of buckets", descriptor.Name)
	}

	if descriptor.MaxBucketEntries < 0 {
		return fmt.Errorf("Index %s must not have a negative bucket size", descriptor.Name)
	}

	return nil
}

// Registry maps actor types to the indexes kept over their attributes. It is
// filled by explicit Register calls at startup.
type Registry struct {
	lock    sync.RWMutex
	indexes map[string]IndexDescriptor
	byType  map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		indexes: make(map[string]IndexDescriptor),
		byType:  make(map[string][]string),
	}
}

func (registry *Registry) Register(descriptor IndexDescriptor) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}

	if descriptor.Kind == ChainedPerKeyHash && descriptor.Buckets == 0 {
		descriptor.Buckets = 1
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()

	if _, ok := registry.indexes[descriptor.Name]; ok {
		return fmt.Errorf("Index %s is already registered", descriptor.Name)
	}

	for _, name := range registry.byType[descriptor.TypeName] {
		if registry.indexes[name].Attribute == descriptor.Attribute {
			return fmt.Errorf("Attribute %s of type %s is already indexed by %s", descriptor.Attribute, descriptor.TypeName, name)
		}
	}

	registry.indexes[descriptor.Name] = descriptor
	registry.byType[descriptor.TypeName] = append(registry.byType[descriptor.TypeName], descriptor.Name)

	sort.Strings(registry.byType[descriptor.TypeName])

	return nil
}

func (registry *Registry) Get(indexName string) (IndexDescriptor, bool) {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	descriptor, ok := registry.indexes[indexName]

	return descriptor, ok
}

// IndexesOf returns the indexes of an actor type ordered by name
func (registry *Registry) IndexesOf(typeName string) []IndexDescriptor {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	descriptors := make([]IndexDescriptor, 0, len(registry.byType[typeName]))

	for _, name := range registry.byType[typeName] {
		descriptors = append(descriptors, registry.indexes[name])
	}

	return descriptors
}

func (registry *Registry) TypeNames() []string {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	typeNames := make([]string, 0, len(registry.byType))

	for typeName, _ := range registry.byType {
		typeNames = append(typeNames, typeName)
	}

	sort.Strings(typeNames)

	return typeNames
}

func (registry *Registry) All() []IndexDescriptor {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	descriptors := make([]IndexDescriptor, 0, len(registry.indexes))

	for _, descriptor := range registry.indexes {
		descriptors = append(descriptors, descriptor)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	return descriptors
}
