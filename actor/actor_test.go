package actor_test

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
	"os"
	"sync"

	. "github.com/PelionIoT/indexflow/actor"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/update"
	. "github.com/PelionIoT/indexflow/util"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type appliedUpdate struct {
	indexName string
	update    MemberUpdate
}

type MockIndexApplier struct {
	lock       sync.Mutex
	applyCB    func(indexName string, memberUpdate MemberUpdate) error
	applied    []appliedUpdate
	rolledBack []appliedUpdate
}

func (applier *MockIndexApplier) Apply(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error {
	applier.lock.Lock()
	defer applier.lock.Unlock()

	if applier.applyCB != nil {
		if err := applier.applyCB(indexName, memberUpdate); err != nil {
			return err
		}
	}

	applier.applied = append(applier.applied, appliedUpdate{indexName: indexName, update: memberUpdate})

	return nil
}

func (applier *MockIndexApplier) Rollback(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error {
	applier.lock.Lock()
	defer applier.lock.Unlock()

	applier.rolledBack = append(applier.rolledBack, appliedUpdate{indexName: indexName, update: memberUpdate})

	return nil
}

var _ = Describe("Actor", func() {
	var storageFile string
	var storageDriver StorageDriver
	var registry *Registry
	var dispatcher *Dispatcher
	var pool *QueuePool
	var directory *Directory
	var handler *Handler
	ctx := context.Background()

	newDirectory := func(applier IndexApplier) *Directory {
		return NewDirectory(DirectoryConfig{
			StorageDriver: storageDriver,
			Registry:      registry,
			Applier:       applier,
			Queues:        pool,
			LocalHost:     "host1",
		})
	}

	pendingRecords := func() []*WorkflowRecord {
		records, err := pool.QueueFor("player", "A").RemainingRecords()

		Expect(err).Should(BeNil())

		return records
	}

	processQueue := func() BatchResult {
		queue := pool.QueueFor("player", "A")
		head, err := queue.GiveMoreWorkflowsOrSetAsIdle()

		Expect(err).Should(BeNil())

		return handler.HandleWorkflowsUntilPunctuation(ctx, queue, head)
	}

	BeforeEach(func() {
		storageFile = "/tmp/testactor-" + RandomString()
		storageDriver = NewLevelDBStorageDriver(storageFile, nil)

		Expect(storageDriver.Open()).Should(BeNil())

		registry = NewRegistry()

		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "names", Attribute: "name", Unique: true, Eager: true})).Should(BeNil())
		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "levels", Attribute: "level", Kind: ChainedPerKeyHash, Buckets: 4})).Should(BeNil())
		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "teams", Attribute: "team", Eager: true})).Should(BeNil())

		dispatcher = NewDispatcher(DispatcherConfig{Registry: registry, LocalHost: "host1", StorageDriver: storageDriver})
		pool = NewQueuePool(&StorageQueueFactory{StorageDriver: storageDriver}, 1, nil)

		Expect(pool.Acquire("player", 0).Initialize(nil)).Should(BeNil())

		directory = newDirectory(dispatcher)
		handler = &Handler{Applier: dispatcher, Actors: directory}
	})

	AfterEach(func() {
		directory.Close()
		pool.Close()
		dispatcher.Close()
		storageDriver.Close()
		os.RemoveAll(storageFile)
	})

	It("Should enqueue the member update of every changed index and persist the open workflow id", func() {
		actor, err := directory.Activate("player", "A")

		Expect(err).Should(BeNil())
		Expect(actor.SetAttributes(ctx, map[string]*string{"name": Value("alice"), "level": Value("3"), "color": Value("red")})).Should(BeNil())

		records := pendingRecords()

		Expect(len(records)).Should(Equal(1))
		Expect(records[0].TargetActor).Should(Equal(ActorRef("A")))
		Expect(records[0].UpdatesByIndex).Should(Equal(map[string]MemberUpdate{
			"names":  NewMemberUpdate(nil, Value("alice"), Tentative),
			"levels": Compute(nil, Value("3")),
		}))

		state, err := actor.State()

		Expect(err).Should(BeNil())
		Expect(state.Attributes).Should(Equal(map[string]string{"name": "alice", "level": "3", "color": "red"}))
		Expect(state.ActiveWorkflowIDs).Should(Equal([]uuid.UUID{records[0].WorkflowID}))

		_, err = dispatcher.LookupUnique(ctx, "names", "alice")

		Expect(err).Should(Equal(ENotFound))

		Expect(processQueue()).Should(Equal(BatchResult{Applied: 1}))
		Expect(dispatcher.LookupUnique(ctx, "names", "alice")).Should(Equal(ActorRef("A")))
		Expect(dispatcher.Lookup(ctx, "levels", "3")).Should(Equal([]ActorRef{"A"}))
		Expect(actor.GetActiveWorkflowIdsSet(ctx)).Should(BeEmpty())
		Expect(pendingRecords()).Should(BeEmpty())
	})

	It("Should move the actor between keys when an attribute changes", func() {
		actor, _ := directory.Activate("player", "A")

		Expect(actor.SetAttributes(ctx, map[string]*string{"level": Value("3")})).Should(BeNil())
		Expect(actor.SetAttributes(ctx, map[string]*string{"level": Value("4")})).Should(BeNil())
		Expect(processQueue()).Should(Equal(BatchResult{Applied: 2}))
		Expect(dispatcher.Lookup(ctx, "levels", "3")).Should(BeEmpty())
		Expect(dispatcher.Lookup(ctx, "levels", "4")).Should(Equal([]ActorRef{"A"}))

		Expect(actor.SetAttributes(ctx, map[string]*string{"level": nil})).Should(BeNil())
		Expect(processQueue()).Should(Equal(BatchResult{Applied: 1}))
		Expect(dispatcher.Lookup(ctx, "levels", "4")).Should(BeEmpty())
		Expect(actor.Attributes()).Should(BeEmpty())
	})

	It("Should keep the other members of an eager index key visible when one member moves away", func() {
		alice, _ := directory.Activate("player", "A")
		bob, _ := directory.Activate("player", "B")

		Expect(alice.SetAttributes(ctx, map[string]*string{"team": Value("red")})).Should(BeNil())
		Expect(bob.SetAttributes(ctx, map[string]*string{"team": Value("red")})).Should(BeNil())
		Expect(dispatcher.Lookup(ctx, "teams", "red")).Should(BeEmpty())

		Expect(processQueue()).Should(Equal(BatchResult{Applied: 2}))
		Expect(dispatcher.Lookup(ctx, "teams", "red")).Should(Equal([]ActorRef{"A", "B"}))

		Expect(alice.SetAttributes(ctx, map[string]*string{"team": Value("blue")})).Should(BeNil())
		Expect(dispatcher.Lookup(ctx, "teams", "blue")).Should(BeEmpty())

		Expect(processQueue()).Should(Equal(BatchResult{Applied: 1}))
		Expect(dispatcher.Lookup(ctx, "teams", "red")).Should(Equal([]ActorRef{"B"}))
		Expect(dispatcher.Lookup(ctx, "teams", "blue")).Should(Equal([]ActorRef{"A"}))
		Expect(alice.GetActiveWorkflowIdsSet(ctx)).Should(BeEmpty())
		Expect(bob.GetActiveWorkflowIdsSet(ctx)).Should(BeEmpty())
	})

	It("Should drop a rolled back eager claim without hiding the confirmed members", func() {
		alice, _ := directory.Activate("player", "A")
		bob, _ := directory.Activate("player", "B")

		Expect(bob.SetAttributes(ctx, map[string]*string{"team": Value("red")})).Should(BeNil())
		Expect(processQueue()).Should(Equal(BatchResult{Applied: 1}))

		pool.QueueFor("player", "A").Close()

		Expect(alice.SetAttributes(ctx, map[string]*string{"team": Value("red")})).Should(Equal(EQueueClosed))
		Expect(dispatcher.Lookup(ctx, "teams", "red")).Should(Equal([]ActorRef{"B"}))
	})

	It("Should commit a change that touches no index without a workflow record", func() {
		actor, _ := directory.Activate("player", "A")

		Expect(actor.SetAttributes(ctx, map[string]*string{"color": Value("red")})).Should(BeNil())
		Expect(pendingRecords()).Should(BeEmpty())

		state, err := actor.State()

		Expect(err).Should(BeNil())
		Expect(state.ActiveWorkflowIDs).Should(BeEmpty())
	})

	It("Should refuse a change that an eager unique index rejects", func() {
		actorA, _ := directory.Activate("player", "A")
		actorB, _ := directory.Activate("player", "B")

		Expect(actorA.SetAttributes(ctx, map[string]*string{"name": Value("alice")})).Should(BeNil())
		Expect(processQueue()).Should(Equal(BatchResult{Applied: 1}))
		Expect(actorB.SetAttributes(ctx, map[string]*string{"name": Value("alice"), "level": Value("1")})).Should(Equal(EUniquenessViolation))
		Expect(pendingRecords()).Should(BeEmpty())
		Expect(actorB.Attributes()).Should(BeEmpty())

		_, err := actorB.State()

		Expect(err).Should(Equal(ENoSuchActor))
		Expect(dispatcher.Lookup(ctx, "names", "alice")).Should(Equal([]ActorRef{"A"}))
	})

	It("Should undo the change and its tentative updates when the record cannot be enqueued", func() {
		applier := &MockIndexApplier{}
		directory.Close()
		directory = newDirectory(applier)
		actor, _ := directory.Activate("player", "A")

		pool.QueueFor("player", "A").Close()

		Expect(actor.SetAttributes(ctx, map[string]*string{"name": Value("alice")})).Should(Equal(EQueueClosed))
		Expect(actor.Attributes()).Should(BeEmpty())
		Expect(actor.GetActiveWorkflowIdsSet(ctx)).Should(BeEmpty())
		Expect(applier.applied).Should(Equal([]appliedUpdate{
			appliedUpdate{indexName: "names", update: NewMemberUpdate(nil, Value("alice"), Tentative)},
		}))
		Expect(applier.rolledBack).Should(Equal(applier.applied))
	})

	It("Should roll back earlier tentative updates when a later eager index refuses", func() {
		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "tags", Attribute: "tag", Eager: true})).Should(BeNil())

		applier := &MockIndexApplier{
			applyCB: func(indexName string, memberUpdate MemberUpdate) error {
				if indexName == "tags" {
					return EIndexUnavailable
				}

				return nil
			},
		}
		directory.Close()
		directory = newDirectory(applier)
		actor, _ := directory.Activate("player", "A")

		Expect(actor.SetAttributes(ctx, map[string]*string{"name": Value("alice"), "tag": Value("new")})).Should(Equal(EIndexUnavailable))
		Expect(applier.rolledBack).Should(Equal([]appliedUpdate{
			appliedUpdate{indexName: "names", update: NewMemberUpdate(nil, Value("alice"), Tentative)},
		}))
		Expect(pendingRecords()).Should(BeEmpty())
	})

	It("Should record permanent index failures and forget them with the workflow id", func() {
		actor, _ := directory.Activate("player", "A")

		Expect(actor.SetAttributes(ctx, map[string]*string{"level": Value("3")})).Should(BeNil())

		id := pendingRecords()[0].WorkflowID

		actor.IndexUpdateFailed(ctx, id, "levels", EUniquenessViolation)

		state, _ := actor.State()

		Expect(state.FailedIndexes).Should(Equal(map[uuid.UUID]string{id: "levels"}))

		Expect(actor.RemoveFromActiveWorkflowIds(ctx, NewWorkflowIDSet(id))).Should(BeNil())

		state, _ = actor.State()

		Expect(state.FailedIndexes).Should(BeEmpty())
		Expect(state.ActiveWorkflowIDs).Should(BeEmpty())
	})

	Describe("Directory", func() {
		It("Should reload a deactivated actor from storage", func() {
			actor, _ := directory.Activate("player", "A")

			Expect(actor.SetAttributes(ctx, map[string]*string{"level": Value("3")})).Should(BeNil())

			id := pendingRecords()[0].WorkflowID

			directory.Deactivate("player", "A")

			Expect(directory.Active()).Should(BeEmpty())

			reloaded, err := directory.Activate("player", "A")

			Expect(err).Should(BeNil())
			Expect(reloaded).ShouldNot(BeIdenticalTo(actor))
			Expect(reloaded.Attributes()).Should(Equal(map[string]string{"level": "3"}))
			Expect(reloaded.GetActiveWorkflowIdsSet(ctx)).Should(Equal(NewWorkflowIDSet(id)))
		})

		It("Should return the same instance while an actor is active", func() {
			first, _ := directory.Activate("player", "A")
			second, _ := directory.Resolve(ctx, "player", "A")

			Expect(second).Should(BeIdenticalTo(first))
			Expect(directory.Active()).Should(Equal([]string{"player/A"}))
		})

		It("Should list the stored actors of a type", func() {
			for _, ref := range []ActorRef{"B", "A"} {
				actor, _ := directory.Activate("player", ref)

				Expect(actor.SetAttributes(ctx, map[string]*string{"color": Value("red")})).Should(BeNil())
			}

			unsaved, _ := directory.Activate("player", "C")
			game, _ := directory.Activate("game", "G")

			Expect(unsaved).ShouldNot(BeNil())
			Expect(game.SetAttributes(ctx, map[string]*string{"color": Value("red")})).Should(BeNil())
			Expect(directory.IndexedActors(ctx, "player")).Should(Equal([]ActorRef{"A", "B"}))
			Expect(directory.IndexedActors(ctx, "game")).Should(Equal([]ActorRef{"G"}))
		})

		It("Should locate only the actors active on this host", func() {
			directory.Activate("player", "A")

			host, ok := directory.HostOf("A")

			Expect(ok).Should(BeTrue())
			Expect(host).Should(Equal(HostRef("host1")))

			_, ok = directory.HostOf("B")

			Expect(ok).Should(BeFalse())
		})
	})
})
