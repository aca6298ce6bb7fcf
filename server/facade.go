package server

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

	. "github.com/PelionIoT/indexflow/actor"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"
)

// IndexServerFacade serves the actor and queue routes from the directory and
// the queue pool of one host
type IndexServerFacade struct {
	Directory   *Directory
	Pool        *QueuePool
	Coordinator *RecoveryCoordinator
}

func (facade *IndexServerFacade) SetAttributes(ctx context.Context, actorType string, actorRef ActorRef, changes map[string]*string) error {
	actor, err := facade.Directory.Activate(actorType, actorRef)

	if err != nil {
		return err
	}

	return actor.SetAttributes(ctx, changes)
}

func (facade *IndexServerFacade) GetActor(ctx context.Context, actorType string, actorRef ActorRef) (ActorState, error) {
	actor, err := facade.Directory.Activate(actorType, actorRef)

	if err != nil {
		return ActorState{}, err
	}

	return actor.State()
}

func (facade *IndexServerFacade) Queues() []QueueStatus {
	queues := facade.Pool.Queues()
	statuses := make([]QueueStatus, 0, len(queues))

	for _, queue := range queues {
		statuses = append(statuses, queue.Status())
	}

	return statuses
}

func (facade *IndexServerFacade) FailedWorkflows(queueID string) ([]FailedWorkflow, error) {
	queue, ok := facade.Pool.Get(queueID)

	if !ok {
		return nil, ENoSuchQueue
	}

	return queue.FailedWorkflows()
}

// ResolveFailed retries or discards a failed record. A discarded record's
// workflow id is closed at its actor since no index will confirm it.
func (facade *IndexServerFacade) ResolveFailed(ctx context.Context, queueID string, workflowID uuid.UUID, retry bool) (*WorkflowRecord, error) {
	queue, ok := facade.Pool.Get(queueID)

	if !ok {
		return nil, ENoSuchQueue
	}

	record, err := queue.ResolveFailed(workflowID, retry)

	if err != nil || retry {
		return record, err
	}

	actor, err := facade.Directory.Activate(record.ActorType, record.TargetActor)

	if err == nil {
		err = actor.RemoveFromActiveWorkflowIds(ctx, NewWorkflowIDSet(workflowID))
	}

	if err != nil {
		// Recovery closes the id later since the record is gone
		Log.Warningf("Unable to close discarded workflow %s at actor %s/%s: %v", workflowID, record.ActorType, record.TargetActor, err)
	}

	return record, nil
}

func (facade *IndexServerFacade) RestartQueue(ctx context.Context, queueID string) error {
	return facade.Coordinator.Restart(ctx, queueID)
}
