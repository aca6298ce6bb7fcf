package workflow

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

	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/storage"
)

const queueNamespace = "queue"

type QueueFactory interface {
	CreateQueue(actorType string, partition uint64) *Queue
}

// StorageQueueFactory creates queues that persist under their own namespace
// of a shared storage driver. Every queue of one type and partition shares
// the same namespace across incarnations.
type StorageQueueFactory struct {
	StorageDriver StorageDriver
	BatchSize     int
	Handler       QueueHandler
}

func (storageQueueFactory *StorageQueueFactory) CreateQueue(actorType string, partition uint64) *Queue {
	var storageDriver StorageDriver

	if storageQueueFactory.StorageDriver != nil {
		storageDriver = NewNamespacedStorageDriver(queueNamespace, QueueID(actorType, partition), storageQueueFactory.StorageDriver)
	}

	return NewQueue(actorType, partition, storageQueueFactory.BatchSize, storageDriver, storageQueueFactory.Handler)
}

// QueuePool holds one queue per actor type and partition. The partition of an
// actor is a hash of its identity.
type QueuePool struct {
	QueueFactory         QueueFactory
	PartitionCount       uint64
	PartitioningStrategy PartitioningStrategy
	lock                 sync.Mutex
	queues               map[string]*Queue
}

func NewQueuePool(queueFactory QueueFactory, partitionCount uint64, partitioningStrategy PartitioningStrategy) *QueuePool {
	if partitionCount < MinPartitionCount {
		partitionCount = MinPartitionCount
	}

	if partitioningStrategy == nil {
		partitioningStrategy = &SimplePartitioningStrategy{}
	}

	return &QueuePool{
		QueueFactory:         queueFactory,
		PartitionCount:       partitionCount,
		PartitioningStrategy: partitioningStrategy,
		queues:               make(map[string]*Queue),
	}
}

func (queuePool *QueuePool) PartitionOf(actor ActorRef) uint64 {
	return queuePool.PartitioningStrategy.Partition(string(actor), queuePool.PartitionCount)
}

func (queuePool *QueuePool) Acquire(actorType string, partition uint64) *Queue {
	queuePool.lock.Lock()
	defer queuePool.lock.Unlock()

	id := QueueID(actorType, partition)

	if _, ok := queuePool.queues[id]; !ok {
		queuePool.queues[id] = queuePool.QueueFactory.CreateQueue(actorType, partition)
	}

	return queuePool.queues[id]
}

// QueueFor returns the queue that owns the records of an actor
func (queuePool *QueuePool) QueueFor(actorType string, actor ActorRef) *Queue {
	return queuePool.Acquire(actorType, queuePool.PartitionOf(actor))
}

func (queuePool *QueuePool) Get(queueID string) (*Queue, bool) {
	queuePool.lock.Lock()
	defer queuePool.lock.Unlock()

	queue, ok := queuePool.queues[queueID]

	return queue, ok
}

// Replace installs a new incarnation of a queue and returns the previous
// one, which the caller closes after taking over its records
func (queuePool *QueuePool) Replace(queueID string) (*Queue, *Queue, bool) {
	queuePool.lock.Lock()
	defer queuePool.lock.Unlock()

	previous, ok := queuePool.queues[queueID]

	if !ok {
		return nil, nil, false
	}

	queue := queuePool.QueueFactory.CreateQueue(previous.ActorType(), previous.Partition())
	queuePool.queues[queueID] = queue

	return previous, queue, true
}

func (queuePool *QueuePool) Queues() []*Queue {
	queuePool.lock.Lock()
	defer queuePool.lock.Unlock()

	queues := make([]*Queue, 0, len(queuePool.queues))

	for _, queue := range queuePool.queues {
		queues = append(queues, queue)
	}

	sort.Slice(queues, func(i, j int) bool {
		return queues[i].ID() < queues[j].ID()
	})

	return queues
}

func (queuePool *QueuePool) Close() {
	for _, queue := range queuePool.Queues() {
		queue.Close()
	}
}
