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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/mailbox"
	. "github.com/PelionIoT/indexflow/storage"

	"github.com/google/uuid"
)

var (
	recordPrefix = []byte("r.")
	failedPrefix = []byte("f.")
)

func recordKey(sequence uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recordPrefix, sequence))
}

func failedKey(workflowID uuid.UUID) []byte {
	return append(append([]byte{}, failedPrefix...), []byte(workflowID.String())...)
}

type queuedRecord struct {
	sequence uint64
	record   *WorkflowRecord
}

// Queue is the durable ordered queue of workflow records of one partition of
// one actor type. A record is written to storage before AddToQueue returns.
// Records are handed to the handler in batches that end with a punctuation.
// A handed out record stays in flight until it is removed, pruned or marked
// failed. Records still in flight when the handler asks for more are handed
// out again first.
type Queue struct {
	id            string
	actorType     string
	partition     uint64
	batchSize     int
	storageDriver StorageDriver
	handler       QueueHandler
	mailbox       *mailbox.Mailbox
	done          chan struct{}
	closeOnce     sync.Once
	handling      sync.WaitGroup
	state         QueueState
	initialized   bool
	nextSequence  uint64
	pending       []queuedRecord
	inFlight      []queuedRecord
	failed        map[uuid.UUID]*FailedWorkflow
}

// NewQueue creates a queue that must be initialized before it accepts work.
// storageDriver may be nil for a queue that keeps its records in memory only.
// A batchSize of zero hands out every pending record at once.
func NewQueue(actorType string, partition uint64, batchSize int, storageDriver StorageDriver, handler QueueHandler) *Queue {
	return &Queue{
		id:            QueueID(actorType, partition),
		actorType:     actorType,
		partition:     partition,
		batchSize:     batchSize,
		storageDriver: storageDriver,
		handler:       handler,
		mailbox:       mailbox.New(),
		done:          make(chan struct{}),
		state:         Idle,
		failed:        make(map[uuid.UUID]*FailedWorkflow),
	}
}

func (queue *Queue) ID() string {
	return queue.id
}

func (queue *Queue) ActorType() string {
	return queue.actorType
}

func (queue *Queue) Partition() uint64 {
	return queue.partition
}

// Done is closed once the queue is closed
func (queue *Queue) Done() <-chan struct{} {
	return queue.done
}

// Initialize loads the records stored by previous incarnations and adds the
// seed records that are not stored yet. It does not start processing.
func (queue *Queue) Initialize(seed []*WorkflowRecord) error {
	return queue.mailbox.Call(func() error {
		if queue.initialized {
			return nil
		}

		if err := queue.load(); err != nil {
			return err
		}

		known := make(map[uuid.UUID]bool)

		for _, queued := range queue.pending {
			known[queued.record.WorkflowID] = true
		}

		for id, _ := range queue.failed {
			known[id] = true
		}

		newRecords := make([]*WorkflowRecord, 0, len(seed))

		for _, record := range seed {
			if !known[record.WorkflowID] {
				known[record.WorkflowID] = true
				newRecords = append(newRecords, record)
			}
		}

		if err := queue.append(newRecords); err != nil {
			return err
		}

		queue.initialized = true
		queue.updatePendingGauge()

		Log.Infof("Initialized workflow queue %s with %d pending and %d failed records (%d from seed)", queue.id, len(queue.pending), len(queue.failed), len(newRecords))

		return nil
	})
}

func (queue *Queue) load() error {
	queue.pending = []queuedRecord{}
	queue.failed = make(map[uuid.UUID]*FailedWorkflow)

	if queue.storageDriver == nil {
		return nil
	}

	iter, err := queue.storageDriver.GetMatches([][]byte{recordPrefix, failedPrefix})

	if err != nil {
		Log.Errorf("Unable to load workflow queue %s: %v", queue.id, err)

		return EStorage
	}

	defer iter.Release()

	for iter.Next() {
		key := iter.Key()

		if bytes.HasPrefix(key, failedPrefix) {
			var failedWorkflow FailedWorkflow

			if err := json.Unmarshal(iter.Value(), &failedWorkflow); err != nil || failedWorkflow.Record == nil {
				Log.Errorf("Workflow queue %s contains a corrupted failed record at key %s", queue.id, string(key))

				return ECorrupted
			}

			queue.failed[failedWorkflow.Record.WorkflowID] = &failedWorkflow

			continue
		}

		sequence, err := strconv.ParseUint(string(key[len(recordPrefix):]), 10, 64)

		if err != nil {
			Log.Errorf("Workflow queue %s contains a record with an invalid key %s", queue.id, string(key))

			return ECorrupted
		}

		record, err := WorkflowRecordFromJSON(iter.Value())

		if err != nil {
			Log.Errorf("Workflow queue %s contains a corrupted record at key %s: %v", queue.id, string(key), err)

			return ECorrupted
		}

		queue.pending = append(queue.pending, queuedRecord{sequence: sequence, record: record})

		if sequence >= queue.nextSequence {
			queue.nextSequence = sequence + 1
		}
	}

	if iter.Error() != nil {
		Log.Errorf("Unable to load workflow queue %s: %v", queue.id, iter.Error())

		return EStorage
	}

	sort.Slice(queue.pending, func(i, j int) bool {
		return queue.pending[i].sequence < queue.pending[j].sequence
	})

	return nil
}

func (queue *Queue) persist(batch *Batch) error {
	if queue.storageDriver == nil || batch.Size() == 0 {
		return nil
	}

	if err := queue.storageDriver.Batch(batch); err != nil {
		Log.Errorf("Unable to write to workflow queue %s: %v", queue.id, err)

		return EStorage
	}

	return nil
}

// append durably adds records to the tail of the pending list
func (queue *Queue) append(records []*WorkflowRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := NewBatch()
	queued := make([]queuedRecord, 0, len(records))
	sequence := queue.nextSequence

	for _, record := range records {
		encodedRecord, err := record.ToJSON()

		if err != nil {
			return err
		}

		batch.Put(recordKey(sequence), encodedRecord)
		queued = append(queued, queuedRecord{sequence: sequence, record: record.Clone()})
		sequence++
	}

	if err := queue.persist(batch); err != nil {
		return err
	}

	queue.nextSequence = sequence
	queue.pending = append(queue.pending, queued...)

	return nil
}

func (queue *Queue) checkInitialized() error {
	if !queue.initialized {
		return EQueueNotInitialized
	}

	return nil
}

func (queue *Queue) validate(record *WorkflowRecord) error {
	if record == nil || record.ActorType != queue.actorType || record.IsEmpty() {
		return EInvalidUpdate
	}

	for _, memberUpdate := range record.UpdatesByIndex {
		if !memberUpdate.Validate() {
			return EInvalidUpdate
		}
	}

	return nil
}

func (queue *Queue) AddToQueue(record *WorkflowRecord) error {
	return queue.AddAllToQueue([]*WorkflowRecord{record})
}

// AddAllToQueue stores the records and hands them to the handler if the
// queue was idle. The records are durable once it returns nil.
func (queue *Queue) AddAllToQueue(records []*WorkflowRecord) error {
	return queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		for _, record := range records {
			if err := queue.validate(record); err != nil {
				return err
			}
		}

		if err := queue.append(records); err != nil {
			return err
		}

		queue.updatePendingGauge()
		queue.activate()

		return nil
	})
}

// activate moves an idle queue with pending records to the active state and
// starts the handler on the first batch
func (queue *Queue) activate() {
	if queue.state != Idle || len(queue.pending) == 0 {
		return
	}

	queue.state = Active

	Log.Debugf("Workflow queue %s is now active", queue.id)

	if queue.handler == nil {
		return
	}

	head := queue.takeBatch()

	queue.handling.Add(1)

	go func() {
		defer queue.handling.Done()

		queue.handler.HandleQueue(queue, head)
	}()
}

// WaitForHandler blocks until no handler is processing this queue. A queue
// that is closed never starts another one.
func (queue *Queue) WaitForHandler(ctx context.Context) error {
	stopped := make(chan struct{})

	go func() {
		queue.handling.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (queue *Queue) takeBatch() *WorkflowRecordNode {
	n := len(queue.pending)

	if queue.batchSize > 0 && n > queue.batchSize {
		n = queue.batchSize
	}

	batch := queue.pending[:n]
	queue.inFlight = append(queue.inFlight, batch...)
	queue.pending = append([]queuedRecord{}, queue.pending[n:]...)

	head := NewPunctuation()

	for i := len(batch) - 1; i >= 0; i-- {
		node := NewWorkflowRecordNode(batch[i].record.Clone())
		node.Next = head
		head = node
	}

	return head
}

// GiveMoreWorkflowsOrSetAsIdle returns the next batch or nil after moving
// the queue to the idle state if there is nothing left to do
func (queue *Queue) GiveMoreWorkflowsOrSetAsIdle() (*WorkflowRecordNode, error) {
	var head *WorkflowRecordNode

	err := queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		if len(queue.inFlight) > 0 {
			queue.pending = append(queue.inFlight, queue.pending...)
			queue.inFlight = nil
		}

		if len(queue.pending) == 0 {
			queue.state = Idle

			Log.Debugf("Workflow queue %s is now idle", queue.id)

			return nil
		}

		queue.state = Active
		head = queue.takeBatch()

		return nil
	})

	return head, err
}

// Start begins processing after recovery if the queue holds records
func (queue *Queue) Start() error {
	return queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		queue.activate()

		return nil
	})
}

func (queue *Queue) filterOut(workflowIDs map[uuid.UUID]bool, batch *Batch) {
	filter := func(records []queuedRecord) []queuedRecord {
		kept := make([]queuedRecord, 0, len(records))

		for _, queued := range records {
			if workflowIDs[queued.record.WorkflowID] {
				batch.Delete(recordKey(queued.sequence))
			} else {
				kept = append(kept, queued)
			}
		}

		return kept
	}

	queue.pending = filter(queue.pending)
	queue.inFlight = filter(queue.inFlight)
}

// RemoveAllFromQueue deletes the records with the given ids whether they are
// pending, in flight or failed. Unknown ids are ignored.
func (queue *Queue) RemoveAllFromQueue(workflowIDs []uuid.UUID) error {
	if len(workflowIDs) == 0 {
		return nil
	}

	return queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		removed := NewWorkflowIDSet(workflowIDs...)
		batch := NewBatch()

		for id, _ := range removed {
			if _, ok := queue.failed[id]; ok {
				batch.Delete(failedKey(id))
			}
		}

		pending, inFlight := queue.pending, queue.inFlight
		queue.filterOut(removed, batch)

		if err := queue.persist(batch); err != nil {
			queue.pending, queue.inFlight = pending, inFlight

			return err
		}

		for id, _ := range removed {
			delete(queue.failed, id)
		}

		queue.updatePendingGauge()

		return nil
	})
}

// PruneAppliedUpdates drops the per-index updates that were already applied
// from the records that are still queued. Records left without updates are
// removed.
func (queue *Queue) PruneAppliedUpdates(applied map[uuid.UUID][]string) error {
	if len(applied) == 0 {
		return nil
	}

	return queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		batch := NewBatch()
		prune := func(records []queuedRecord) ([]queuedRecord, error) {
			kept := make([]queuedRecord, 0, len(records))

			for _, queued := range records {
				indexNames, ok := applied[queued.record.WorkflowID]

				if !ok {
					kept = append(kept, queued)

					continue
				}

				record := queued.record.Clone()
				record.RemoveIndexUpdates(indexNames)

				if record.IsEmpty() {
					batch.Delete(recordKey(queued.sequence))

					continue
				}

				encodedRecord, err := record.ToJSON()

				if err != nil {
					return nil, err
				}

				batch.Put(recordKey(queued.sequence), encodedRecord)
				kept = append(kept, queuedRecord{sequence: queued.sequence, record: record})
			}

			return kept, nil
		}

		pending, err := prune(queue.pending)

		if err != nil {
			return err
		}

		inFlight, err := prune(queue.inFlight)

		if err != nil {
			return err
		}

		if err := queue.persist(batch); err != nil {
			return err
		}

		queue.pending, queue.inFlight = pending, inFlight
		queue.updatePendingGauge()

		return nil
	})
}

// MarkPermanentlyFailed moves records out of the queue into the failed set.
// They stay there until they are resolved.
func (queue *Queue) MarkPermanentlyFailed(reasons map[uuid.UUID]string) error {
	if len(reasons) == 0 {
		return nil
	}

	return queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		batch := NewBatch()
		failed := make(map[uuid.UUID]*FailedWorkflow)

		for _, queued := range append(append([]queuedRecord{}, queue.inFlight...), queue.pending...) {
			reason, ok := reasons[queued.record.WorkflowID]

			if !ok {
				continue
			}

			failedWorkflow := &FailedWorkflow{Record: queued.record, Reason: reason}
			encoded, err := json.Marshal(failedWorkflow)

			if err != nil {
				return err
			}

			batch.Put(failedKey(queued.record.WorkflowID), encoded)
			failed[queued.record.WorkflowID] = failedWorkflow
		}

		pending, inFlight := queue.pending, queue.inFlight
		queue.filterOut(NewWorkflowIDSet(workflowIDsOf(failed)...), batch)

		if err := queue.persist(batch); err != nil {
			queue.pending, queue.inFlight = pending, inFlight

			return err
		}

		for id, failedWorkflow := range failed {
			queue.failed[id] = failedWorkflow

			Log.Warningf("Workflow %s of actor %s failed permanently in queue %s: %s", id, failedWorkflow.Record.TargetActor, queue.id, failedWorkflow.Reason)
		}

		queue.updatePendingGauge()

		return nil
	})
}

func (queue *Queue) FailedWorkflows() ([]FailedWorkflow, error) {
	var result []FailedWorkflow

	err := queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		result = make([]FailedWorkflow, 0, len(queue.failed))

		for _, failedWorkflow := range queue.failed {
			result = append(result, FailedWorkflow{Record: failedWorkflow.Record.Clone(), Reason: failedWorkflow.Reason})
		}

		sort.Slice(result, func(i, j int) bool {
			return result[i].Record.WorkflowID.String() < result[j].Record.WorkflowID.String()
		})

		return nil
	})

	return result, err
}

// ResolveFailed either puts a failed record back at the tail of the queue or
// discards it. The record is returned in both cases.
func (queue *Queue) ResolveFailed(workflowID uuid.UUID, retry bool) (*WorkflowRecord, error) {
	var record *WorkflowRecord

	err := queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		failedWorkflow, ok := queue.failed[workflowID]

		if !ok {
			return ENoSuchWorkflow
		}

		batch := NewBatch().Delete(failedKey(workflowID))
		sequence := queue.nextSequence

		if retry {
			encodedRecord, err := failedWorkflow.Record.ToJSON()

			if err != nil {
				return err
			}

			batch.Put(recordKey(sequence), encodedRecord)
		}

		if err := queue.persist(batch); err != nil {
			return err
		}

		delete(queue.failed, workflowID)
		record = failedWorkflow.Record.Clone()

		if retry {
			queue.nextSequence++
			queue.pending = append(queue.pending, queuedRecord{sequence: sequence, record: failedWorkflow.Record})
			queue.activate()

			Log.Infof("Retrying failed workflow %s in queue %s", workflowID, queue.id)
		} else {
			Log.Infof("Discarded failed workflow %s in queue %s", workflowID, queue.id)
		}

		queue.updatePendingGauge()

		return nil
	})

	return record, err
}

// GetRemainingWorkflowsIn returns the ids among workflowIDs whose records
// have not been fully applied yet
func (queue *Queue) GetRemainingWorkflowsIn(workflowIDs WorkflowIDSet) (WorkflowIDSet, error) {
	var remaining WorkflowIDSet

	err := queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		remaining = NewWorkflowIDSet()

		for _, queued := range queue.pending {
			if workflowIDs.Contains(queued.record.WorkflowID) {
				remaining[queued.record.WorkflowID] = true
			}
		}

		for _, queued := range queue.inFlight {
			if workflowIDs.Contains(queued.record.WorkflowID) {
				remaining[queued.record.WorkflowID] = true
			}
		}

		for id, _ := range queue.failed {
			if workflowIDs.Contains(id) {
				remaining[id] = true
			}
		}

		return nil
	})

	return remaining, err
}

// RemainingRecords returns every record that has not been fully applied in
// queue order followed by the failed records. It still answers after the
// queue is closed so that a replacement can take over its records.
func (queue *Queue) RemainingRecords() ([]*WorkflowRecord, error) {
	var records []*WorkflowRecord

	err := queue.mailbox.Call(func() error {
		if err := queue.checkInitialized(); err != nil {
			return err
		}

		records = queue.snapshot()

		return nil
	})

	if err == EQueueClosed {
		// The mailbox has stopped so nothing else touches the queue state
		if !queue.initialized {
			return nil, EQueueNotInitialized
		}

		return queue.snapshot(), nil
	}

	return records, err
}

func (queue *Queue) snapshot() []*WorkflowRecord {
	records := make([]*WorkflowRecord, 0, len(queue.inFlight)+len(queue.pending)+len(queue.failed))

	for _, queued := range queue.inFlight {
		records = append(records, queued.record.Clone())
	}

	for _, queued := range queue.pending {
		records = append(records, queued.record.Clone())
	}

	for _, id := range workflowIDsOf(queue.failed) {
		records = append(records, queue.failed[id].Record.Clone())
	}

	return records
}

func (queue *Queue) Status() QueueStatus {
	status := QueueStatus{
		ID:        queue.id,
		ActorType: queue.actorType,
		Partition: queue.partition,
		State:     "closed",
	}

	queue.mailbox.Call(func() error {
		status.State = queue.state.String()
		status.Initialized = queue.initialized
		status.Pending = len(queue.pending)
		status.InFlight = len(queue.inFlight)
		status.Failed = len(queue.failed)

		return nil
	})

	return status
}

// Close stops the queue. A running handler stops when it asks for more work.
func (queue *Queue) Close() {
	queue.closeOnce.Do(func() {
		queue.mailbox.Close()
		close(queue.done)
	})
}

func (queue *Queue) updatePendingGauge() {
	prometheusQueuePending.WithLabelValues(queue.id).Set(float64(len(queue.pending) + len(queue.inFlight)))
}

func workflowIDsOf(failed map[uuid.UUID]*FailedWorkflow) []uuid.UUID {
	return NewWorkflowIDSet(keysOf(failed)...).Slice()
}

func keysOf(failed map[uuid.UUID]*FailedWorkflow) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(failed))

	for id, _ := range failed {
		ids = append(ids, id)
	}

	return ids
}
