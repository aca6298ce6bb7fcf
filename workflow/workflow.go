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
	"fmt"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/update"

	"github.com/google/uuid"
)

type QueueState int

const (
	Idle   QueueState = iota
	Active QueueState = iota
)

func (state QueueState) String() string {
	switch state {
	case Idle:
		return "idle"
	case Active:
		return "active"
	}

	return fmt.Sprintf("QueueState(%d)", int(state))
}

// IndexableActor is the part of an actor the pipeline talks to. The active
// workflow id set holds the ids of the actor's committed changes that have
// not been confirmed by every index yet.
type IndexableActor interface {
	GetActiveWorkflowIdsSet(ctx context.Context) (WorkflowIDSet, error)
	RemoveFromActiveWorkflowIds(ctx context.Context, ids WorkflowIDSet) error
}

// FailureObserver is implemented by actors that want to know when one of
// their updates can never be applied to an index
type FailureObserver interface {
	IndexUpdateFailed(ctx context.Context, workflowID uuid.UUID, indexName string, err error)
}

type ActorResolver interface {
	Resolve(ctx context.Context, actorType string, actor ActorRef) (IndexableActor, error)
}

// ActorLister enumerates the actors of a type that have indexed attributes
type ActorLister interface {
	IndexedActors(ctx context.Context, actorType string) ([]ActorRef, error)
}

// IndexApplier applies member updates to indexes by name
type IndexApplier interface {
	Apply(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error
	Rollback(ctx context.Context, indexName string, targetActor ActorRef, memberUpdate MemberUpdate, hostHint HostRef) error
}

// QueueSource is a previous incarnation of a queue whose remaining records
// can seed its replacement
type QueueSource interface {
	RemainingRecords() ([]*WorkflowRecord, error)
}

// QueueHandler processes the batches of a queue after it becomes active
type QueueHandler interface {
	HandleQueue(queue *Queue, head *WorkflowRecordNode)
}

type FailedWorkflow struct {
	Record *WorkflowRecord `json:"record"`
	Reason string          `json:"reason"`
}

type QueueStatus struct {
	ID          string `json:"id"`
	ActorType   string `json:"actorType"`
	Partition   uint64 `json:"partition"`
	State       string `json:"state"`
	Initialized bool   `json:"initialized"`
	Pending     int    `json:"pending"`
	InFlight    int    `json:"inFlight"`
	Failed      int    `json:"failed"`
}

func QueueID(actorType string, partition uint64) string {
	return fmt.Sprintf("%s/%d", actorType, partition)
}
