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
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/update"

	"github.com/google/uuid"
)

const DefaultRetryDelay = time.Second

// BatchResult counts what happened to the records of one batch
type BatchResult struct {
	Applied int
	Stale   int
	Retried int
	Failed  int
}

// Handler applies the records of active queues to their indexes. One handler
// serves every queue. Each queue runs at most one HandleQueue loop at a time.
type Handler struct {
	Applier    IndexApplier
	Actors     ActorResolver
	RetryDelay time.Duration
	Timeout    time.Duration
}

// HandleQueue processes batches until the queue reports it is idle or is
// closed. After a batch with transient failures it waits RetryDelay before
// asking for more.
func (handler *Handler) HandleQueue(queue *Queue, head *WorkflowRecordNode) {
	for head != nil {
		ctx, cancel := handler.batchContext()
		result := handler.HandleWorkflowsUntilPunctuation(ctx, queue, head)
		cancel()

		if result.Retried > 0 {
			retryDelay := handler.RetryDelay

			if retryDelay <= 0 {
				retryDelay = DefaultRetryDelay
			}

			select {
			case <-time.After(retryDelay):
			case <-queue.Done():
				return
			}
		}

		var err error

		if head, err = queue.GiveMoreWorkflowsOrSetAsIdle(); err != nil {
			Log.Warningf("Handler of workflow queue %s stopped: %v", queue.ID(), err)

			return
		}
	}
}

func (handler *Handler) batchContext() (context.Context, context.CancelFunc) {
	if handler.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}

	return context.WithTimeout(context.Background(), handler.Timeout)
}

type actorOutcome struct {
	actor     IndexableActor
	succeeded []uuid.UUID
	stale     []uuid.UUID
	pruned    map[uuid.UUID][]string
	failed    map[uuid.UUID]string
	retried   int
}

// HandleWorkflowsUntilPunctuation applies the records from head up to the
// punctuation. Actors are handled in parallel and the records of one actor
// in queue order. Records whose id the actor no longer claims are removed
// without being applied.
func (handler *Handler) HandleWorkflowsUntilPunctuation(ctx context.Context, queue *Queue, head *WorkflowRecordNode) BatchResult {
	records := head.Records()
	actorOrder := []ActorRef{}
	recordsByActor := make(map[ActorRef][]*WorkflowRecord)

	for _, record := range records {
		if _, ok := recordsByActor[record.TargetActor]; !ok {
			actorOrder = append(actorOrder, record.TargetActor)
		}

		recordsByActor[record.TargetActor] = append(recordsByActor[record.TargetActor], record)
	}

	var lock sync.Mutex
	var group errgroup.Group
	outcomes := make([]actorOutcome, 0, len(actorOrder))

	for _, actorRef := range actorOrder {
		actorRef := actorRef

		group.Go(func() error {
			outcome := handler.handleActor(ctx, queue, actorRef, recordsByActor[actorRef])

			lock.Lock()
			outcomes = append(outcomes, outcome)
			lock.Unlock()

			return nil
		})
	}

	group.Wait()

	var result BatchResult
	var removed []uuid.UUID
	pruned := make(map[uuid.UUID][]string)
	failed := make(map[uuid.UUID]string)

	for _, outcome := range outcomes {
		removed = append(removed, outcome.succeeded...)
		removed = append(removed, outcome.stale...)

		for id, indexNames := range outcome.pruned {
			pruned[id] = indexNames
		}

		for id, reason := range outcome.failed {
			failed[id] = reason
		}

		result.Applied += len(outcome.succeeded)
		result.Stale += len(outcome.stale)
		result.Retried += outcome.retried
		result.Failed += len(outcome.failed)
	}

	if err := queue.RemoveAllFromQueue(removed); err != nil {
		Log.Warningf("Unable to remove %d applied records from workflow queue %s: %v", len(removed), queue.ID(), err)

		// The records are handed out again and reapplied
		result.Retried += result.Applied + result.Stale
		result.Applied = 0
		result.Stale = 0

		prometheusRecordBatchResult(queue.ID(), result)

		return result
	}

	if err := queue.PruneAppliedUpdates(pruned); err != nil {
		Log.Warningf("Unable to prune applied updates in workflow queue %s: %v", queue.ID(), err)
	}

	if err := queue.MarkPermanentlyFailed(failed); err != nil {
		Log.Warningf("Unable to mark %d records as failed in workflow queue %s: %v", len(failed), queue.ID(), err)
	}

	for _, outcome := range outcomes {
		if len(outcome.succeeded) == 0 {
			continue
		}

		if err := outcome.actor.RemoveFromActiveWorkflowIds(ctx, NewWorkflowIDSet(outcome.succeeded...)); err != nil {
			Log.Warningf("Unable to remove %d confirmed workflow ids from an actor of queue %s: %v", len(outcome.succeeded), queue.ID(), err)
		}
	}

	prometheusRecordBatchResult(queue.ID(), result)

	Log.Debugf("Workflow queue %s batch: %d applied, %d stale, %d retried, %d failed", queue.ID(), result.Applied, result.Stale, result.Retried, result.Failed)

	return result
}

func (handler *Handler) handleActor(ctx context.Context, queue *Queue, actorRef ActorRef, records []*WorkflowRecord) actorOutcome {
	outcome := actorOutcome{
		pruned: make(map[uuid.UUID][]string),
		failed: make(map[uuid.UUID]string),
	}

	actor, err := handler.Actors.Resolve(ctx, queue.ActorType(), actorRef)

	if err != nil {
		Log.Warningf("Unable to resolve actor %s of queue %s: %v", actorRef, queue.ID(), err)

		outcome.retried = len(records)

		return outcome
	}

	outcome.actor = actor

	activeWorkflowIDs, err := actor.GetActiveWorkflowIdsSet(ctx)

	if err != nil {
		Log.Warningf("Unable to get the active workflow ids of actor %s: %v", actorRef, err)

		outcome.retried = len(records)

		return outcome
	}

	for i, record := range records {
		if !activeWorkflowIDs.Contains(record.WorkflowID) {
			Log.Debugf("Workflow %s is no longer active at actor %s. Discarding it", record.WorkflowID, actorRef)

			outcome.stale = append(outcome.stale, record.WorkflowID)

			continue
		}

		applied, permanentErrors, transientError := handler.applyRecord(ctx, record)

		if len(applied) > 0 && (transientError != nil || len(permanentErrors) > 0) {
			outcome.pruned[record.WorkflowID] = applied
		}

		if transientError != nil {
			Log.Infof("Workflow %s of actor %s will be retried: %v", record.WorkflowID, actorRef, transientError)

			// Later records of this actor wait so that they are applied in order
			outcome.retried = len(records) - i

			return outcome
		}

		if len(permanentErrors) > 0 {
			outcome.failed[record.WorkflowID] = describeFailures(permanentErrors)

			if observer, ok := actor.(FailureObserver); ok {
				for indexName, err := range permanentErrors {
					observer.IndexUpdateFailed(ctx, record.WorkflowID, indexName, err)
				}
			}

			continue
		}

		outcome.succeeded = append(outcome.succeeded, record.WorkflowID)
	}

	return outcome
}

// applyRecord applies every update of a record as a confirmed update. Updates
// that were applied tentatively when the actor committed and that can never
// be confirmed are rolled back. It stops at the first transient failure.
func (handler *Handler) applyRecord(ctx context.Context, record *WorkflowRecord) ([]string, map[string]error, error) {
	applied := []string{}
	permanentErrors := make(map[string]error)

	for _, indexName := range record.IndexNames() {
		memberUpdate := record.UpdatesByIndex[indexName]
		err := handler.Applier.Apply(ctx, indexName, record.TargetActor, OverrideMode(memberUpdate, NonTentative), "")

		switch {
		case err == nil:
			applied = append(applied, indexName)
		case err == ENoSuchIndex || err == EDisposed:
			Log.Warningf("Dropping update of workflow %s for index %s: %v", record.WorkflowID, indexName, err)

			applied = append(applied, indexName)
		case IsTransient(err):
			return applied, permanentErrors, err
		default:
			permanentErrors[indexName] = err

			if memberUpdate.IsTentative() {
				if rollbackError := handler.Applier.Rollback(ctx, indexName, record.TargetActor, memberUpdate, ""); rollbackError != nil {
					Log.Errorf("Unable to roll back the tentative update of workflow %s in index %s: %v", record.WorkflowID, indexName, rollbackError)
				}
			}
		}
	}

	return applied, permanentErrors, nil
}

func describeFailures(errs map[string]error) string {
	description := ""

	for _, indexName := range sortedKeys(errs) {
		if description != "" {
			description += "; "
		}

		description += indexName + ": " + errs[indexName].Error()
	}

	return description
}

func sortedKeys(errs map[string]error) []string {
	keys := make([]string, 0, len(errs))

	for key, _ := range errs {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
