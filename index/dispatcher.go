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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	. "github.com/PelionIoT/indexflow/bucket"
	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/update"
)

// HostBucketClient reaches the buckets another host holds for an index
type HostBucketClient interface {
	ApplyUpdate(ctx context.Context, host HostRef, indexName string, targetActor ActorRef, memberUpdate MemberUpdate) error
	ApplyUpdateBatch(ctx context.Context, host HostRef, indexName string, updates map[ActorRef][]MemberUpdate) error
	Lookup(ctx context.Context, host HostRef, indexName string, key string) ([]ActorRef, error)
	Dispose(ctx context.Context, host HostRef, indexName string) error
}

// ActorLocator reports the host on which an actor is currently active
type ActorLocator interface {
	HostOf(actor ActorRef) (HostRef, bool)
}

type DispatcherConfig struct {
	Registry             *Registry
	LocalHost            HostRef
	Hosts                HostDirectory
	HostClient           HostBucketClient
	Locator              ActorLocator
	PartitioningStrategy PartitioningStrategy
	StorageDriver        StorageDriver
	Timeout              time.Duration
}

type BucketInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Size   int    `json:"size"`
}

type IndexInfo struct {
	Name      string       `json:"name"`
	TypeName  string       `json:"type"`
	Attribute string       `json:"attribute"`
	Kind      string       `json:"kind"`
	Unique    bool         `json:"unique"`
	Eager     bool         `json:"eager"`
	Buckets   []BucketInfo `json:"buckets"`
}

// Dispatcher routes member updates and lookups of every registered index to
// the bucket that owns the key. Per-host indexes keep one bucket on every
// host and a lookup fans out to all active hosts. The buckets of single and
// chained indexes are held by the home host, which is the first active host.
type Dispatcher struct {
	registry             *Registry
	localHost            HostRef
	hosts                HostDirectory
	hostClient           HostBucketClient
	locator              ActorLocator
	partitioningStrategy PartitioningStrategy
	storageDriver        StorageDriver
	timeout              time.Duration
	lock                 sync.Mutex
	pools                map[string]*BucketPool
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	dispatcher := &Dispatcher{
		registry:             config.Registry,
		localHost:            config.LocalHost,
		hosts:                config.Hosts,
		hostClient:           config.HostClient,
		locator:              config.Locator,
		partitioningStrategy: config.PartitioningStrategy,
		storageDriver:        config.StorageDriver,
		timeout:              config.Timeout,
		pools:                make(map[string]*BucketPool),
	}

	if dispatcher.partitioningStrategy == nil {
		dispatcher.partitioningStrategy = &SimplePartitioningStrategy{}
	}

	return dispatcher
}

func (dispatcher *Dispatcher) Registry() *Registry {
	return dispatcher.registry
}

func (dispatcher *Dispatcher) descriptor(indexName string) (IndexDescriptor, error) {
	descriptor, ok := dispatcher.registry.Get(indexName)

	if !ok {
		return IndexDescriptor{}, ENoSuchIndex
	}

	return descriptor, nil
}

func (dispatcher *Dispatcher) pool(descriptor IndexDescriptor) *BucketPool {
	dispatcher.lock.Lock()
	defer dispatcher.lock.Unlock()

	pool, ok := dispatcher.pools[descriptor.Name]

	if !ok {
		pool = NewBucketPool(&HashBucketFactory{
			StorageDriver: dispatcher.storageDriver,
			MaxEntries:    descriptor.MaxBucketEntries,
		})

		dispatcher.pools[descriptor.Name] = pool
	}

	return pool
}

// rootBucketID names the first bucket of the chain that holds key
func (dispatcher *Dispatcher) rootBucketID(descriptor IndexDescriptor, key string) string {
	if descriptor.Kind != ChainedPerKeyHash {
		return descriptor.Name
	}

	partition := dispatcher.partitioningStrategy.Partition(key, uint64(descriptor.Buckets))

	return fmt.Sprintf("%s/%d", descriptor.Name, partition)
}

func (dispatcher *Dispatcher) rootBucketIDs(descriptor IndexDescriptor) []string {
	if descriptor.Kind != ChainedPerKeyHash {
		return []string{descriptor.Name}
	}

	ids := make([]string, 0, descriptor.Buckets)

	for i := 0; i < descriptor.Buckets; i++ {
		ids = append(ids, fmt.Sprintf("%s/%d", descriptor.Name, i))
	}

	return ids
}

func (dispatcher *Dispatcher) homeHost() HostRef {
	if dispatcher.hosts == nil {
		return dispatcher.localHost
	}

	hosts := dispatcher.hosts.ListActiveHosts()

	if len(hosts) == 0 {
		return dispatcher.localHost
	}

	return hosts[0]
}

// targetHost picks the host holding the bucket an update of targetActor
// must go to. The hint wins for per-host indexes. Without it the actor's
// current host is used.
func (dispatcher *Dispatcher) targetHost(descriptor IndexDescriptor, targetActor ActorRef, hostHint HostRef) HostRef {
	if descriptor.Kind != PerHost {
		return dispatcher.homeHost()
	}

	if hostHint != "" {
		return hostHint
	}

	if dispatcher.locator != nil {
		if host, ok := dispatcher.locator.HostOf(targetActor); ok {
			return host
		}
	}

	return dispatcher.localHost
}

func (dispatcher *Dispatcher) isLocal(host HostRef) bool {
	return host == dispatcher.localHost || dispatcher.hostClient == nil
}

func (dispatcher *Dispatcher) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if dispatcher.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, dispatcher.timeout)
}

// Apply routes one member update of targetActor to the bucket that owns its
// key. hostHint may be empty.
func (dispatcher *Dispatcher) Apply(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	host := dispatcher.targetHost(descriptor, targetActor, hostHint)

	if dispatcher.isLocal(host) {
		return dispatcher.ApplyLocal(indexName, targetActor, memberUpdate)
	}

	ctx, cancel := dispatcher.remoteContext(ctx)
	defer cancel()

	return dispatcher.hostClient.ApplyUpdate(ctx, host, indexName, targetActor, memberUpdate)
}

// ApplyBatch applies the updates of several actors. Updates of one actor are
// applied in order and actors going to different hosts are handled in
// parallel. The first error is returned but updates applied for other actors
// are kept.
func (dispatcher *Dispatcher) ApplyBatch(ctx context.Context, indexName string, updates map[ActorRef][]MemberUpdate, hostHint HostRef) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	updatesByHost := make(map[HostRef]map[ActorRef][]MemberUpdate)

	for actor, memberUpdates := range updates {
		host := dispatcher.targetHost(descriptor, actor, hostHint)

		if _, ok := updatesByHost[host]; !ok {
			updatesByHost[host] = make(map[ActorRef][]MemberUpdate)
		}

		updatesByHost[host][actor] = memberUpdates
	}

	var group errgroup.Group

	for host, hostUpdates := range updatesByHost {
		host := host
		hostUpdates := hostUpdates

		group.Go(func() error {
			if dispatcher.isLocal(host) {
				return dispatcher.ApplyBatchLocal(indexName, hostUpdates)
			}

			ctx, cancel := dispatcher.remoteContext(ctx)
			defer cancel()

			if err := dispatcher.hostClient.ApplyUpdateBatch(ctx, host, indexName, hostUpdates); err != nil {
				Log.Warningf("Unable to apply batch for index %s at host %s: %v", indexName, host, err)

				return err
			}

			return nil
		})
	}

	return group.Wait()
}

// Confirm makes a tentatively applied update permanent
func (dispatcher *Dispatcher) Confirm(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error {
	return dispatcher.Apply(ctx, indexName, targetActor, OverrideMode(memberUpdate, NonTentative), hostHint)
}

// Rollback undoes an applied update by applying its reverse
func (dispatcher *Dispatcher) Rollback(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error {
	return dispatcher.Apply(ctx, indexName, targetActor, OverrideMode(Reverse(memberUpdate), NonTentative), hostHint)
}

// ApplyLocal applies an update to the buckets this host holds for the index
func (dispatcher *Dispatcher) ApplyLocal(indexName string, targetActor ActorRef, memberUpdate MemberUpdate) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	if !memberUpdate.Validate() {
		return EInvalidUpdate
	}

	if memberUpdate.OperationKind() == OperationNone {
		return nil
	}

	if memberUpdate.OperationKind() != OperationUpdate {
		var key string

		if memberUpdate.OperationKind() == OperationInsert {
			key = *memberUpdate.AfterImage()
		} else {
			key = *memberUpdate.BeforeImage()
		}

		bucket, err := dispatcher.pool(descriptor).Acquire(dispatcher.rootBucketID(descriptor, key))

		if err != nil {
			return err
		}

		return bucket.ApplyUpdate(targetActor, memberUpdate, descriptor.Unique)
	}

	beforeRoot := dispatcher.rootBucketID(descriptor, *memberUpdate.BeforeImage())
	afterRoot := dispatcher.rootBucketID(descriptor, *memberUpdate.AfterImage())

	if beforeRoot == afterRoot {
		bucket, err := dispatcher.pool(descriptor).Acquire(beforeRoot)

		if err != nil {
			return err
		}

		return bucket.ApplyUpdate(targetActor, memberUpdate, descriptor.Unique)
	}

	// The keys hash to different chains. Insert first so that a uniqueness
	// violation leaves both keys untouched.
	afterBucket, err := dispatcher.pool(descriptor).Acquire(afterRoot)

	if err != nil {
		return err
	}

	beforeBucket, err := dispatcher.pool(descriptor).Acquire(beforeRoot)

	if err != nil {
		return err
	}

	insert := OverrideKind(memberUpdate, OperationInsert)

	if err := afterBucket.ApplyUpdate(targetActor, insert, descriptor.Unique); err != nil {
		return err
	}

	if err := beforeBucket.ApplyUpdate(targetActor, OverrideKind(memberUpdate, OperationDelete), descriptor.Unique); err != nil {
		Log.Warningf("Update of actor %s in index %s could not remove its previous key: %v. Undoing the insert", targetActor, indexName, err)

		if undoError := afterBucket.ApplyUpdate(targetActor, OverrideMode(Reverse(insert), NonTentative), descriptor.Unique); undoError != nil {
			Log.Errorf("Unable to undo the insert of actor %s in index %s: %v", targetActor, indexName, undoError)
		}

		return err
	}

	return nil
}

func (dispatcher *Dispatcher) ApplyBatchLocal(indexName string, updates map[ActorRef][]MemberUpdate) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	if descriptor.Kind != ChainedPerKeyHash {
		bucket, err := dispatcher.pool(descriptor).Acquire(descriptor.Name)

		if err != nil {
			return err
		}

		return bucket.ApplyUpdateBatch(updates, descriptor.Unique)
	}

	var group errgroup.Group

	for actor, memberUpdates := range updates {
		actor := actor
		memberUpdates := memberUpdates

		group.Go(func() error {
			for _, memberUpdate := range memberUpdates {
				if err := dispatcher.ApplyLocal(indexName, actor, memberUpdate); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return group.Wait()
}

// LookupLocal returns the actors holding key in the buckets this host holds
// for the index. The whole successor chain of the owning bucket is searched.
func (dispatcher *Dispatcher) LookupLocal(indexName string, key string) ([]ActorRef, error) {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return nil, err
	}

	bucket, err := dispatcher.pool(descriptor).Acquire(dispatcher.rootBucketID(descriptor, key))

	if err != nil {
		return nil, err
	}

	var result []ActorRef

	for bucket != nil {
		values, err := bucket.Lookup(key)

		if err != nil {
			return nil, err
		}

		result = append(result, values...)

		if bucket, err = bucket.Successor(); err != nil {
			return nil, err
		}
	}

	return uniqueActors(result), nil
}

func (dispatcher *Dispatcher) lookupOnHost(ctx context.Context, host HostRef, indexName string, key string) ([]ActorRef, error) {
	if dispatcher.isLocal(host) {
		return dispatcher.LookupLocal(indexName, key)
	}

	ctx, cancel := dispatcher.remoteContext(ctx)
	defer cancel()

	return dispatcher.hostClient.Lookup(ctx, host, indexName, key)
}

func (dispatcher *Dispatcher) activeHosts() []HostRef {
	if dispatcher.hosts == nil {
		return []HostRef{dispatcher.localHost}
	}

	hosts := dispatcher.hosts.ListActiveHosts()

	if len(hosts) == 0 {
		return []HostRef{dispatcher.localHost}
	}

	return hosts
}

// Lookup returns every actor holding key. A per-host index is queried on all
// active hosts in parallel and the results are merged.
func (dispatcher *Dispatcher) Lookup(ctx context.Context, indexName string, key string) ([]ActorRef, error) {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return nil, err
	}

	if descriptor.Kind != PerHost {
		return dispatcher.lookupOnHost(ctx, dispatcher.homeHost(), indexName, key)
	}

	hosts := dispatcher.activeHosts()
	results := make([][]ActorRef, len(hosts))
	group, ctx := errgroup.WithContext(ctx)

	for i, host := range hosts {
		i := i
		host := host

		group.Go(func() error {
			values, err := dispatcher.lookupOnHost(ctx, host, indexName, key)

			if err != nil {
				Log.Warningf("Unable to look up key %s of index %s at host %s: %v", key, indexName, host, err)

				return err
			}

			results[i] = values

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []ActorRef

	for _, values := range results {
		merged = append(merged, values...)
	}

	return uniqueActors(merged), nil
}

// LookupUnique returns the single actor holding key. For a per-host index the
// first host to report a value wins and the remaining queries are abandoned.
func (dispatcher *Dispatcher) LookupUnique(ctx context.Context, indexName string, key string) (ActorRef, error) {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return "", err
	}

	if descriptor.Kind != PerHost {
		values, err := dispatcher.lookupOnHost(ctx, dispatcher.homeHost(), indexName, key)

		if err != nil {
			return "", err
		}

		return singleActor(values)
	}

	hosts := dispatcher.activeHosts()
	hits := make(chan ActorRef, len(hosts))
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group

	for _, host := range hosts {
		host := host

		group.Go(func() error {
			values, err := dispatcher.lookupOnHost(ctx, host, indexName, key)

			if err != nil {
				return err
			}

			if len(values) > 1 {
				return EMultipleValues
			}

			if len(values) == 1 {
				hits <- values[0]
			}

			return nil
		})
	}

	go func() {
		done <- group.Wait()
	}()

	select {
	case actor := <-hits:
		return actor, nil
	case err := <-done:
		select {
		case actor := <-hits:
			return actor, nil
		default:
		}

		if err != nil {
			return "", err
		}

		return "", ENotFound
	}
}

// Dispose disposes every bucket of the index on every host holding one
func (dispatcher *Dispatcher) Dispose(ctx context.Context, indexName string) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	hosts := []HostRef{dispatcher.homeHost()}

	if descriptor.Kind == PerHost {
		hosts = dispatcher.activeHosts()
	}

	var group errgroup.Group

	for _, host := range hosts {
		host := host

		group.Go(func() error {
			if dispatcher.isLocal(host) {
				return dispatcher.DisposeLocal(indexName)
			}

			ctx, cancel := dispatcher.remoteContext(ctx)
			defer cancel()

			return dispatcher.hostClient.Dispose(ctx, host, indexName)
		})
	}

	return group.Wait()
}

// DisposeLocal disposes the buckets this host holds for the index. Disposing
// an index twice succeeds.
func (dispatcher *Dispatcher) DisposeLocal(indexName string) error {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return err
	}

	for _, bucketID := range dispatcher.rootBucketIDs(descriptor) {
		bucket, err := dispatcher.pool(descriptor).Acquire(bucketID)

		if err != nil {
			return err
		}

		if err := bucket.Dispose(); err != nil && err != EDisposed {
			return err
		}
	}

	Log.Infof("Disposed index %s at host %s", indexName, dispatcher.localHost)

	return nil
}

// IsAvailable reports whether the index is registered and the buckets this
// host holds for it can take updates
func (dispatcher *Dispatcher) IsAvailable(indexName string) bool {
	descriptor, err := dispatcher.descriptor(indexName)

	if err != nil {
		return false
	}

	if descriptor.Kind != PerHost && !dispatcher.isLocal(dispatcher.homeHost()) {
		return true
	}

	for _, bucketID := range dispatcher.rootBucketIDs(descriptor) {
		bucket, err := dispatcher.pool(descriptor).Acquire(bucketID)

		if err != nil || !bucket.IsAvailable() {
			return false
		}
	}

	return true
}

// Indexes describes every registered index and the buckets this host holds
// for it
func (dispatcher *Dispatcher) Indexes() []IndexInfo {
	descriptors := dispatcher.registry.All()
	infos := make([]IndexInfo, 0, len(descriptors))

	for _, descriptor := range descriptors {
		info := IndexInfo{
			Name:      descriptor.Name,
			TypeName:  descriptor.TypeName,
			Attribute: descriptor.Attribute,
			Kind:      descriptor.Kind.String(),
			Unique:    descriptor.Unique,
			Eager:     descriptor.Eager,
			Buckets:   []BucketInfo{},
		}

		pool := dispatcher.pool(descriptor)

		for _, bucketID := range pool.IDs() {
			if bucket, ok := pool.Get(bucketID); ok {
				info.Buckets = append(info.Buckets, BucketInfo{
					ID:     bucketID,
					Status: bucket.Status().String(),
					Size:   bucket.Size(),
				})
			}
		}

		infos = append(infos, info)
	}

	return infos
}

func (dispatcher *Dispatcher) Close() {
	dispatcher.lock.Lock()
	pools := dispatcher.pools
	dispatcher.pools = make(map[string]*BucketPool)
	dispatcher.lock.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
}

func uniqueActors(actors []ActorRef) []ActorRef {
	set := make(map[ActorRef]bool, len(actors))
	result := make([]ActorRef, 0, len(actors))

	for _, actor := range actors {
		if !set[actor] {
			set[actor] = true
			result = append(result, actor)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i] < result[j]
	})

	return result
}

func singleActor(actors []ActorRef) (ActorRef, error) {
	switch len(actors) {
	case 0:
		return "", ENotFound
	case 1:
		return actors[0], nil
	}

	return "", EMultipleValues
}
