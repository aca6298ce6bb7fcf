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
	"context"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"

	"github.com/google/uuid"
)

// RecoveryCoordinator brings a new incarnation of a queue in line with the
// records its previous incarnation left behind and with the workflow ids
// its actors still consider open
type RecoveryCoordinator struct {
	Actors ActorResolver
	Lister ActorLister
	Pool   *QueuePool
}

// Recover initializes queue and starts it if it holds work. When previous is
// reachable its remaining records seed the queue. Otherwise the stored
// records are reconciled with the open workflow ids of every actor of the
// queue's partition.
func (coordinator *RecoveryCoordinator) Recover(ctx context.Context, queue *Queue, previous QueueSource) error {
	if previous != nil {
		records, err := previous.RemainingRecords()

		if err == nil {
			if err := queue.Initialize(records); err != nil {
				return err
			}

			Log.Infof("Recovered workflow queue %s from its previous incarnation", queue.ID())

			return queue.Start()
		}

		Log.Warningf("Previous incarnation of workflow queue %s is unreachable: %v. Reconciling with its actors", queue.ID(), err)
	}

	if err := queue.Initialize(nil); err != nil {
		return err
	}

	reconcileError := coordinator.reconcile(ctx, queue)

	if err := queue.Start(); err != nil {
		return err
	}

	return reconcileError
}

func (coordinator *RecoveryCoordinator) reconcile(ctx context.Context, queue *Queue) error {
	stored, err := queue.RemainingRecords()

	if err != nil {
		return err
	}

	actors, err := coordinator.Lister.IndexedActors(ctx, queue.ActorType())

	if err != nil {
		Log.Errorf("Unable to list the actors of workflow queue %s: %v", queue.ID(), err)

		return err
	}

	claimed := NewWorkflowIDSet()
	unresolved := make(map[ActorRef]bool)

	for _, actorRef := range actors {
		if coordinator.Pool != nil && coordinator.Pool.PartitionOf(actorRef) != queue.Partition() {
			continue
		}

		remaining, err := coordinator.reconcileActor(ctx, queue, actorRef)

		if err != nil {
			Log.Warningf("Unable to reconcile actor %s with workflow queue %s: %v", actorRef, queue.ID(), err)

			unresolved[actorRef] = true

			continue
		}

		for id, _ := range remaining {
			claimed[id] = true
		}
	}

	var unclaimed []uuid.UUID

	for _, record := range stored {
		if !claimed.Contains(record.WorkflowID) && !unresolved[record.TargetActor] {
			unclaimed = append(unclaimed, record.WorkflowID)
		}
	}

	if len(unclaimed) > 0 {
		Log.Infof("Discarding %d records of workflow queue %s that no actor claims", len(unclaimed), queue.ID())

		if err := queue.RemoveAllFromQueue(unclaimed); err != nil {
			return err
		}
	}

	Log.Infof("Reconciled workflow queue %s with %d actors. %d records remain", queue.ID(), len(actors)-len(unresolved), len(stored)-len(unclaimed))

	return nil
}

// reconcileActor drops the open ids of an actor that have no stored record
// and returns the ones that do
func (coordinator *RecoveryCoordinator) reconcileActor(ctx context.Context, queue *Queue, actorRef ActorRef) (WorkflowIDSet, error) {
	actor, err := coordinator.Actors.Resolve(ctx, queue.ActorType(), actorRef)

	if err != nil {
		return nil, err
	}

	open, err := actor.GetActiveWorkflowIdsSet(ctx)

	if err != nil {
		return nil, err
	}

	remaining, err := queue.GetRemainingWorkflowsIn(open)

	if err != nil {
		return nil, err
	}

	missing := NewWorkflowIDSet()

	for id, _ := range open {
		if !remaining.Contains(id) {
			missing[id] = true
		}
	}

	if len(missing) > 0 {
		if err := actor.RemoveFromActiveWorkflowIds(ctx, missing); err != nil {
			return nil, err
		}
	}

	return remaining, nil
}

// RecoverAll creates and recovers every partition of every actor type
func (coordinator *RecoveryCoordinator) RecoverAll(ctx context.Context, actorTypes []string) error {
	for _, actorType := range actorTypes {
		for partition := uint64(0); partition < coordinator.Pool.PartitionCount; partition++ {
			if err := coordinator.Recover(ctx, coordinator.Pool.Acquire(actorType, partition), nil); err != nil {
				Log.Errorf("Unable to recover workflow queue %s: %v", QueueID(actorType, partition), err)

				return err
			}
		}
	}

	return nil
}

// Restart replaces a queue with a new incarnation that takes over the
// records of the old one. The new incarnation starts only after the batch the
// old handler was applying has finished, so one actor's records are never
// applied by two handlers at once.
func (coordinator *RecoveryCoordinator) Restart(ctx context.Context, queueID string) error {
	previous, queue, ok := coordinator.Pool.Replace(queueID)

	if !ok {
		return ENoSuchQueue
	}

	previous.Close()

	if err := previous.WaitForHandler(ctx); err != nil {
		Log.Errorf("Handler of workflow queue %s did not stop: %v", queueID, err)

		return err
	}

	return coordinator.Recover(ctx, queue, previous)
}
