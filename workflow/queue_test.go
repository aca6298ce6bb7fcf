package workflow_test

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
	"os"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/update"
	. "github.com/PelionIoT/indexflow/util"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var storageFile string
	var storageDriver StorageDriver
	var queueFactory *StorageQueueFactory
	var queue *Queue

	BeforeEach(func() {
		storageFile = "/tmp/testqueue-" + RandomString()
		storageDriver = NewLevelDBStorageDriver(storageFile, nil)

		Expect(storageDriver.Open()).Should(BeNil())

		queueFactory = &StorageQueueFactory{StorageDriver: storageDriver, BatchSize: 2}
		queue = queueFactory.CreateQueue("player", 3)
	})

	AfterEach(func() {
		queue.Close()
		storageDriver.Close()
		os.RemoveAll(storageFile)
	})

	It("Should refuse work until it is initialized", func() {
		Expect(queue.AddToQueue(newRecord("A", nameChange("x", "y")))).Should(Equal(EQueueNotInitialized))

		_, err := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(err).Should(Equal(EQueueNotInitialized))
		Expect(queue.Status().Initialized).Should(BeFalse())
	})

	It("Should reject records of another actor type or without updates", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())
		Expect(queue.AddToQueue(NewWorkflowRecord("A", "game", nameChange("x", "y")))).Should(Equal(EInvalidUpdate))
		Expect(queue.AddToQueue(newRecord("A", map[string]MemberUpdate{}))).Should(Equal(EInvalidUpdate))
		Expect(queue.Status().Pending).Should(Equal(0))
	})

	It("Should hand out records in batches that end with a punctuation", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())
		Expect(queue.Status().State).Should(Equal("idle"))

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("B", nameChange("c", "d"))
		r3 := newRecord("A", nameChange("b", "e"))

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2, r3})).Should(BeNil())
		Expect(queue.Status().State).Should(Equal("active"))

		head, err := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(err).Should(BeNil())
		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r1.WorkflowID, r2.WorkflowID}))
		Expect(head.Next.Next.IsPunctuation()).Should(BeTrue())
		Expect(queue.Status().InFlight).Should(Equal(2))
		Expect(queue.Status().Pending).Should(Equal(1))

		Expect(queue.RemoveAllFromQueue([]uuid.UUID{r1.WorkflowID, r2.WorkflowID})).Should(BeNil())

		head, err = queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(err).Should(BeNil())
		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r3.WorkflowID}))

		Expect(queue.RemoveAllFromQueue([]uuid.UUID{r3.WorkflowID})).Should(BeNil())

		head, err = queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(err).Should(BeNil())
		Expect(head).Should(BeNil())
		Expect(queue.Status().State).Should(Equal("idle"))
	})

	It("Should hand out unacknowledged records again before newer ones", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("A", nameChange("b", "c"))
		r3 := newRecord("A", nameChange("c", "d"))

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())

		head, _ := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r1.WorkflowID, r2.WorkflowID}))
		Expect(queue.AddToQueue(r3)).Should(BeNil())
		Expect(queue.RemoveAllFromQueue([]uuid.UUID{r1.WorkflowID})).Should(BeNil())

		head, _ = queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r2.WorkflowID, r3.WorkflowID}))
	})

	It("Should keep its records across a restart", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("B", nameChange("c", "d"))
		r3 := newRecord("A", nameChange("b", "e"))

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())
		Expect(queue.AddToQueue(r3)).Should(BeNil())
		Expect(queue.RemoveAllFromQueue([]uuid.UUID{r2.WorkflowID})).Should(BeNil())

		queue.Close()
		queue = queueFactory.CreateQueue("player", 3)

		Expect(queue.Initialize(nil)).Should(BeNil())

		records, err := queue.RemainingRecords()

		Expect(err).Should(BeNil())
		Expect(idsOf(records)).Should(Equal([]uuid.UUID{r1.WorkflowID, r3.WorkflowID}))
		Expect(records[0].UpdatesByIndex["names"].Equal(Compute(Value("a"), Value("b")))).Should(BeTrue())

		r4 := newRecord("A", nameChange("e", "f"))

		Expect(queue.AddToQueue(r4)).Should(BeNil())

		head, _ := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r1.WorkflowID, r3.WorkflowID}))
	})

	It("Should keep the queues of different partitions apart", func() {
		other := queueFactory.CreateQueue("player", 4)
		defer other.Close()

		Expect(queue.Initialize(nil)).Should(BeNil())
		Expect(other.Initialize(nil)).Should(BeNil())
		Expect(queue.AddToQueue(newRecord("A", nameChange("a", "b")))).Should(BeNil())
		Expect(other.RemainingRecords()).Should(BeEmpty())
	})

	It("Should add only the seed records it does not already store", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("B", nameChange("c", "d"))

		Expect(queue.AddToQueue(r1)).Should(BeNil())

		queue.Close()
		queue = queueFactory.CreateQueue("player", 3)

		Expect(queue.Initialize([]*WorkflowRecord{r1, r2})).Should(BeNil())

		records, err := queue.RemainingRecords()

		Expect(err).Should(BeNil())
		Expect(idsOf(records)).Should(Equal([]uuid.UUID{r1.WorkflowID, r2.WorkflowID}))
	})

	It("Should report which workflow ids are still pending", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("A", nameChange("b", "c"))
		unknown := uuid.New()

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())
		Expect(queue.MarkPermanentlyFailed(map[uuid.UUID]string{r2.WorkflowID: "conflict"})).Should(BeNil())
		Expect(queue.GetRemainingWorkflowsIn(NewWorkflowIDSet(r1.WorkflowID, r2.WorkflowID, unknown))).Should(Equal(NewWorkflowIDSet(r1.WorkflowID, r2.WorkflowID)))
	})

	It("Should drop the index updates that were already applied", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", map[string]MemberUpdate{
			"names":  Compute(nil, Value("x")),
			"levels": Compute(nil, Value("1")),
		})
		r2 := newRecord("B", nameChange("a", "b"))

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())
		Expect(queue.PruneAppliedUpdates(map[uuid.UUID][]string{
			r1.WorkflowID: []string{"names"},
			r2.WorkflowID: []string{"names"},
		})).Should(BeNil())

		queue.Close()
		queue = queueFactory.CreateQueue("player", 3)

		Expect(queue.Initialize(nil)).Should(BeNil())

		records, _ := queue.RemainingRecords()

		Expect(len(records)).Should(Equal(1))
		Expect(records[0].WorkflowID).Should(Equal(r1.WorkflowID))
		Expect(records[0].IndexNames()).Should(Equal([]string{"levels"}))
	})

	It("Should keep failed records until they are retried or discarded", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))
		r2 := newRecord("B", nameChange("c", "d"))

		Expect(queue.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())
		Expect(queue.MarkPermanentlyFailed(map[uuid.UUID]string{r1.WorkflowID: "names: conflict", r2.WorkflowID: "names: conflict"})).Should(BeNil())
		Expect(queue.Status().Pending).Should(Equal(0))
		Expect(queue.Status().Failed).Should(Equal(2))

		queue.Close()
		queue = queueFactory.CreateQueue("player", 3)

		Expect(queue.Initialize(nil)).Should(BeNil())

		failed, err := queue.FailedWorkflows()

		Expect(err).Should(BeNil())
		Expect(len(failed)).Should(Equal(2))
		Expect(failed[0].Reason).Should(Equal("names: conflict"))

		record, err := queue.ResolveFailed(r1.WorkflowID, true)

		Expect(err).Should(BeNil())
		Expect(record.WorkflowID).Should(Equal(r1.WorkflowID))

		record, err = queue.ResolveFailed(r2.WorkflowID, false)

		Expect(err).Should(BeNil())
		Expect(record.WorkflowID).Should(Equal(r2.WorkflowID))

		_, err = queue.ResolveFailed(r2.WorkflowID, false)

		Expect(err).Should(Equal(ENoSuchWorkflow))
		Expect(queue.Status().Failed).Should(Equal(0))

		head, _ := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(idsOf(head.Records())).Should(Equal([]uuid.UUID{r1.WorkflowID}))
	})

	It("Should answer for its remaining records after it is closed", func() {
		Expect(queue.Initialize(nil)).Should(BeNil())

		r1 := newRecord("A", nameChange("a", "b"))

		Expect(queue.AddToQueue(r1)).Should(BeNil())

		queue.Close()

		Expect(queue.AddToQueue(newRecord("A", nameChange("b", "c")))).Should(Equal(EQueueClosed))

		records, err := queue.RemainingRecords()

		Expect(err).Should(BeNil())
		Expect(idsOf(records)).Should(Equal([]uuid.UUID{r1.WorkflowID}))
		Expect(queue.Status().State).Should(Equal("closed"))
	})

	Context("with a failing storage driver", func() {
		It("Should not accept records it could not store", func() {
			mockStorageDriver := &MockStorageDriver{}
			failingQueue := NewQueue("player", 0, 0, mockStorageDriver, nil)
			defer failingQueue.Close()

			Expect(failingQueue.Initialize(nil)).Should(BeNil())

			mockStorageDriver.defaultBatchResponse = errors.New("Some error")

			Expect(failingQueue.AddToQueue(newRecord("A", nameChange("a", "b")))).Should(Equal(EStorage))
			Expect(failingQueue.Status().Pending).Should(Equal(0))
			Expect(failingQueue.Status().State).Should(Equal("idle"))
		})
	})
})

var _ = Describe("QueuePool", func() {
	It("Should map an actor to the same queue every time", func() {
		pool := NewQueuePool(&StorageQueueFactory{}, 8, nil)
		defer pool.Close()

		queue := pool.QueueFor("player", "A")

		Expect(pool.QueueFor("player", "A")).Should(BeIdenticalTo(queue))
		Expect(queue.Partition()).Should(Equal(pool.PartitionOf("A")))
		Expect(queue.Partition()).Should(BeNumerically("<", 8))
		Expect(queue.ID()).Should(Equal(QueueID("player", queue.Partition())))

		found, ok := pool.Get(queue.ID())

		Expect(ok).Should(BeTrue())
		Expect(found).Should(BeIdenticalTo(queue))
	})

	It("Should replace a queue with a new incarnation", func() {
		pool := NewQueuePool(&StorageQueueFactory{}, 2, nil)
		defer pool.Close()

		queue := pool.Acquire("player", 1)
		pool.Acquire("player", 0)

		previous, replacement, ok := pool.Replace(queue.ID())

		Expect(ok).Should(BeTrue())
		Expect(previous).Should(BeIdenticalTo(queue))
		Expect(replacement).ShouldNot(BeIdenticalTo(queue))
		Expect(replacement.ID()).Should(Equal(queue.ID()))
		Expect(len(pool.Queues())).Should(Equal(2))
		Expect(pool.Queues()[0].ID()).Should(Equal("player/0"))

		_, _, ok = pool.Replace("player/7")

		Expect(ok).Should(BeFalse())

		previous.Close()
	})
})
