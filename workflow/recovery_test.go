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
	"context"
	"errors"
	"os"
	"time"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/util"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("RecoveryCoordinator", func() {
	var storageFile string
	var storageDriver StorageDriver
	var queueFactory *StorageQueueFactory
	var directory *MockActorDirectory
	var coordinator *RecoveryCoordinator
	ctx := context.Background()

	remaining := func(queue *Queue) []uuid.UUID {
		records, err := queue.RemainingRecords()

		Expect(err).Should(BeNil())

		return idsOf(records)
	}

	BeforeEach(func() {
		storageFile = "/tmp/testrecovery-" + RandomString()
		storageDriver = NewLevelDBStorageDriver(storageFile, nil)

		Expect(storageDriver.Open()).Should(BeNil())

		queueFactory = &StorageQueueFactory{StorageDriver: storageDriver}
		directory = NewMockActorDirectory()
		coordinator = &RecoveryCoordinator{Actors: directory, Lister: directory}
	})

	AfterEach(func() {
		storageDriver.Close()
		os.RemoveAll(storageFile)
	})

	Describe("#Recover", func() {
		It("Should take over the records of a reachable previous incarnation without asking the actors", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			r2 := newRecord("B", nameChange("c", "d"))
			previous := NewQueue("player", 0, 0, nil, nil)

			Expect(previous.Initialize(nil)).Should(BeNil())
			Expect(previous.AddAllToQueue([]*WorkflowRecord{r1, r2})).Should(BeNil())

			previous.Close()
			directory.defaultListResponse = errors.New("Listing is unavailable")

			queue := NewQueue("player", 0, 0, nil, nil)
			defer queue.Close()

			Expect(coordinator.Recover(ctx, queue, previous)).Should(BeNil())
			Expect(remaining(queue)).Should(Equal([]uuid.UUID{r1.WorkflowID, r2.WorkflowID}))
			Expect(queue.Status().State).Should(Equal("active"))
		})

		It("Should reconcile with the actors when the previous incarnation cannot answer", func() {
			lost := uuid.New()
			directory.actors["A"] = NewMockActor(lost)
			previous := NewQueue("player", 0, 0, nil, nil)
			defer previous.Close()

			queue := NewQueue("player", 0, 0, nil, nil)
			defer queue.Close()

			Expect(coordinator.Recover(ctx, queue, previous)).Should(BeNil())
			Expect(remaining(queue)).Should(BeEmpty())
			Expect(directory.actors["A"].Removed()).Should(Equal([]uuid.UUID{lost}))
			Expect(queue.Status().State).Should(Equal("idle"))
		})

		It("Should keep the stored records that actors claim and drop the rest", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			r2 := newRecord("B", nameChange("c", "d"))
			r3 := newRecord("C", nameChange("e", "f"))
			lost := uuid.New()
			original := queueFactory.CreateQueue("player", 0)

			Expect(original.Initialize(nil)).Should(BeNil())
			Expect(original.AddAllToQueue([]*WorkflowRecord{r1, r2, r3})).Should(BeNil())

			original.Close()

			directory.actors["A"] = NewMockActor(r1.WorkflowID, lost)
			directory.actors["B"] = NewMockActor()
			directory.unresolvable["C"] = true

			queue := queueFactory.CreateQueue("player", 0)
			defer queue.Close()

			Expect(coordinator.Recover(ctx, queue, nil)).Should(BeNil())
			Expect(remaining(queue)).Should(Equal([]uuid.UUID{r1.WorkflowID, r3.WorkflowID}))
			Expect(directory.actors["A"].Removed()).Should(Equal([]uuid.UUID{lost}))
			Expect(directory.actors["A"].ActiveIDs()).Should(Equal(NewWorkflowIDSet(r1.WorkflowID)))
			Expect(directory.actors["B"].Removed()).Should(BeEmpty())
		})

		It("Should leave the queue initialized when the actors cannot be listed", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			original := queueFactory.CreateQueue("player", 0)

			Expect(original.Initialize(nil)).Should(BeNil())
			Expect(original.AddToQueue(r1)).Should(BeNil())

			original.Close()
			directory.defaultListResponse = errors.New("Listing is unavailable")

			queue := queueFactory.CreateQueue("player", 0)
			defer queue.Close()

			Expect(coordinator.Recover(ctx, queue, nil)).Should(Equal(directory.defaultListResponse))
			Expect(queue.Status().Initialized).Should(BeTrue())
			Expect(remaining(queue)).Should(Equal([]uuid.UUID{r1.WorkflowID}))
		})

		It("Should start the handler on the recovered records", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			directory.actors["A"] = NewMockActor(r1.WorkflowID)
			applier := &MockIndexApplier{}
			queueFactory.Handler = &Handler{Applier: applier, Actors: directory}
			seeded := NewQueue("player", 0, 0, nil, nil)

			Expect(seeded.Initialize([]*WorkflowRecord{r1})).Should(BeNil())

			seeded.Close()

			queue := queueFactory.CreateQueue("player", 0)
			defer queue.Close()

			Expect(coordinator.Recover(ctx, queue, seeded)).Should(BeNil())

			Eventually(func() []uuid.UUID {
				return directory.actors["A"].Removed()
			}).Should(Equal([]uuid.UUID{r1.WorkflowID}))
			Eventually(func() string {
				return queue.Status().State
			}).Should(Equal("idle"))
			Expect(len(applier.Applied())).Should(Equal(1))
		})
	})

	Context("with a queue pool", func() {
		var pool *QueuePool

		BeforeEach(func() {
			pool = NewQueuePool(queueFactory, 2, nil)
			coordinator.Pool = pool
		})

		AfterEach(func() {
			pool.Close()
		})

		It("Should recover every partition of every actor type", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			original := queueFactory.CreateQueue("player", pool.PartitionOf("A"))

			Expect(original.Initialize(nil)).Should(BeNil())
			Expect(original.AddToQueue(r1)).Should(BeNil())

			original.Close()
			directory.actors["A"] = NewMockActor(r1.WorkflowID)

			Expect(coordinator.RecoverAll(ctx, []string{"player"})).Should(BeNil())

			queues := pool.Queues()

			Expect(len(queues)).Should(Equal(2))
			Expect(queues[0].ID()).Should(Equal("player/0"))
			Expect(queues[1].ID()).Should(Equal("player/1"))

			for _, queue := range queues {
				Expect(queue.Status().Initialized).Should(BeTrue())
			}

			Expect(remaining(pool.QueueFor("player", "A"))).Should(Equal([]uuid.UUID{r1.WorkflowID}))
			Expect(directory.actors["A"].Removed()).Should(BeEmpty())
		})

		It("Should restart a queue as a new incarnation holding the same records", func() {
			r1 := newRecord("A", nameChange("a", "b"))
			directory.actors["A"] = NewMockActor(r1.WorkflowID)

			Expect(coordinator.RecoverAll(ctx, []string{"player"})).Should(BeNil())

			queue := pool.QueueFor("player", "A")

			Expect(queue.AddToQueue(r1)).Should(BeNil())
			Expect(coordinator.Restart(ctx, queue.ID())).Should(BeNil())
			Expect(queue.Status().State).Should(Equal("closed"))

			replacement, ok := pool.Get(queue.ID())

			Expect(ok).Should(BeTrue())
			Expect(replacement).ShouldNot(BeIdenticalTo(queue))
			Expect(remaining(replacement)).Should(Equal([]uuid.UUID{r1.WorkflowID}))
		})

		It("Should start the new incarnation only after the old handler finished its batch", func() {
			handler := newBlockingHandler()
			queueFactory.Handler = handler

			Expect(coordinator.RecoverAll(ctx, []string{"player"})).Should(BeNil())

			queue := pool.QueueFor("player", "A")

			Expect(queue.AddToQueue(newRecord("A", nameChange("a", "b")))).Should(BeNil())
			Eventually(handler.started).Should(Receive(Equal(queue.ID())))

			restarted := make(chan error, 1)

			go func() {
				restarted <- coordinator.Restart(ctx, queue.ID())
			}()

			Consistently(restarted, time.Millisecond*50).ShouldNot(Receive())
			Expect(handler.started).ShouldNot(Receive())

			close(handler.release)

			Eventually(restarted).Should(Receive(BeNil()))
			Eventually(handler.started).Should(Receive(Equal(queue.ID())))
		})

		It("Should give up waiting for the old handler when the context ends", func() {
			handler := newBlockingHandler()
			queueFactory.Handler = handler
			defer close(handler.release)

			Expect(coordinator.RecoverAll(ctx, []string{"player"})).Should(BeNil())

			queue := pool.QueueFor("player", "A")

			Expect(queue.AddToQueue(newRecord("A", nameChange("a", "b")))).Should(BeNil())
			Eventually(handler.started).Should(Receive())

			waitCtx, cancel := context.WithTimeout(ctx, time.Millisecond*20)
			defer cancel()

			Expect(coordinator.Restart(waitCtx, queue.ID())).Should(Equal(context.DeadlineExceeded))
		})

		It("Should refuse to restart an unknown queue", func() {
			Expect(coordinator.Restart(ctx, "game/0")).Should(Equal(ENoSuchQueue))
		})
	})
})
