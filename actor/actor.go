package actor

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
	"encoding/json"
	"sort"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/mailbox"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/update"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"
)

const actorStateKeyPrefix = "a."

// QueueRouter picks the workflow queue that owns the records of an actor
type QueueRouter interface {
	QueueFor(actorType string, actor ActorRef) *Queue
}

// ActorState is the persisted and reported state of an actor
type ActorState struct {
	Type              string               `json:"type"`
	ID                ActorRef             `json:"id"`
	Attributes        map[string]string    `json:"attributes"`
	ActiveWorkflowIDs []uuid.UUID          `json:"activeWorkflowIds"`
	FailedIndexes     map[uuid.UUID]string `json:"failedIndexes,omitempty"`
}

// Actor holds the indexed attributes of one actor and the ids of its
// committed changes that some index has not confirmed yet. Every operation
// runs as a turn of the actor's mailbox.
type Actor struct {
	actorType         string
	ref               ActorRef
	host              HostRef
	registry          *Registry
	applier           IndexApplier
	queues            QueueRouter
	storageDriver     StorageDriver
	mailbox           *mailbox.Mailbox
	exists            bool
	attributes        map[string]string
	activeWorkflowIDs WorkflowIDSet
	failedIndexes     map[uuid.UUID]string
}

func actorStateKey(ref ActorRef) []byte {
	return []byte(actorStateKeyPrefix + string(ref))
}

func (actor *Actor) ID() ActorRef {
	return actor.ref
}

func (actor *Actor) Type() string {
	return actor.actorType
}

func (actor *Actor) load() error {
	values, err := actor.storageDriver.Get([][]byte{actorStateKey(actor.ref)})

	if err != nil {
		return err
	}

	if values[0] == nil {
		return nil
	}

	var state ActorState

	if err := json.Unmarshal(values[0], &state); err != nil {
		Log.Errorf("Unable to decode the state of actor %s/%s: %v", actor.actorType, actor.ref, err)

		return ECorrupted
	}

	actor.exists = true

	if state.Attributes != nil {
		actor.attributes = state.Attributes
	}

	actor.activeWorkflowIDs = NewWorkflowIDSet(state.ActiveWorkflowIDs...)

	if state.FailedIndexes != nil {
		actor.failedIndexes = state.FailedIndexes
	}

	return nil
}

func (actor *Actor) state() ActorState {
	state := ActorState{
		Type:              actor.actorType,
		ID:                actor.ref,
		Attributes:        make(map[string]string, len(actor.attributes)),
		ActiveWorkflowIDs: actor.activeWorkflowIDs.Slice(),
		FailedIndexes:     make(map[uuid.UUID]string, len(actor.failedIndexes)),
	}

	for attribute, value := range actor.attributes {
		state.Attributes[attribute] = value
	}

	for id, reason := range actor.failedIndexes {
		state.FailedIndexes[id] = reason
	}

	return state
}

func (actor *Actor) persist() error {
	encoded, err := json.Marshal(actor.state())

	if err != nil {
		return err
	}

	if err := actor.storageDriver.Batch(NewBatch().Put(actorStateKey(actor.ref), encoded)); err != nil {
		Log.Errorf("Unable to persist the state of actor %s/%s: %v", actor.actorType, actor.ref, err)

		return EStorage
	}

	actor.exists = true

	return nil
}

// SetAttributes commits attribute changes. A nil value removes the
// attribute. The member update of every index over a changed attribute is
// written to the actor's workflow queue before the new state is persisted.
// Eager indexes see the update tentatively before the change commits and the
// change fails if one of them refuses it.
func (actor *Actor) SetAttributes(ctx context.Context, changes map[string]*string) error {
	return actor.mailbox.Call(func() error {
		return actor.commit(ctx, changes)
	})
}

func (actor *Actor) commit(ctx context.Context, changes map[string]*string) error {
	previousAttributes := actor.attributes
	previousActive := actor.activeWorkflowIDs.Clone()
	attributes := make(map[string]string, len(previousAttributes))

	for attribute, value := range previousAttributes {
		attributes[attribute] = value
	}

	for attribute, value := range changes {
		if value == nil {
			delete(attributes, attribute)
		} else {
			attributes[attribute] = *value
		}
	}

	updates, err := actor.computeUpdates(previousAttributes, attributes)

	if err != nil {
		return err
	}

	tentative, err := actor.applyEager(ctx, updates)

	if err != nil {
		return err
	}

	revert := func() {
		actor.attributes = previousAttributes
		actor.activeWorkflowIDs = previousActive
		actor.rollback(ctx, tentative)
	}

	actor.attributes = attributes

	if len(updates) > 0 {
		record := NewWorkflowRecord(actor.ref, actor.actorType, updates)
		actor.activeWorkflowIDs[record.WorkflowID] = true

		if err := actor.queues.QueueFor(actor.actorType, actor.ref).AddToQueue(record); err != nil {
			Log.Warningf("Unable to enqueue the index updates of actor %s/%s: %v", actor.actorType, actor.ref, err)

			revert()

			return err
		}

		Log.Debugf("Actor %s/%s committed workflow %s touching %d indexes", actor.actorType, actor.ref, record.WorkflowID, len(updates))
	}

	// An enqueued record whose id is not persisted is discarded as stale
	if err := actor.persist(); err != nil {
		revert()

		return err
	}

	return nil
}

func (actor *Actor) computeUpdates(before map[string]string, after map[string]string) (map[string]MemberUpdate, error) {
	updates := make(map[string]MemberUpdate)

	for _, descriptor := range actor.registry.IndexesOf(actor.actorType) {
		memberUpdate := Compute(attributeImage(before, descriptor.Attribute), attributeImage(after, descriptor.Attribute))

		if memberUpdate.OperationKind() == OperationNone {
			continue
		}

		if descriptor.Eager {
			memberUpdate = OverrideMode(memberUpdate, Tentative)
		}

		if !memberUpdate.Validate() {
			return nil, EInvalidUpdate
		}

		updates[descriptor.Name] = memberUpdate
	}

	return updates, nil
}

// applyEager applies the tentative updates in index name order and undoes
// the ones already applied if one fails
func (actor *Actor) applyEager(ctx context.Context, updates map[string]MemberUpdate) (map[string]MemberUpdate, error) {
	tentative := make(map[string]MemberUpdate)

	for _, indexName := range sortedIndexNames(updates) {
		memberUpdate := updates[indexName]

		if !memberUpdate.IsTentative() {
			continue
		}

		if err := actor.applier.Apply(ctx, indexName, actor.ref, memberUpdate, actor.host); err != nil {
			Log.Infof("Index %s refused the change of actor %s/%s: %v", indexName, actor.actorType, actor.ref, err)

			actor.rollback(ctx, tentative)

			return nil, err
		}

		tentative[indexName] = memberUpdate
	}

	return tentative, nil
}

func (actor *Actor) rollback(ctx context.Context, tentative map[string]MemberUpdate) {
	for _, indexName := range sortedIndexNames(tentative) {
		if err := actor.applier.Rollback(ctx, indexName, actor.ref, tentative[indexName], actor.host); err != nil {
			Log.Errorf("Unable to roll back the tentative update of actor %s/%s in index %s: %v", actor.actorType, actor.ref, indexName, err)
		}
	}
}

func (actor *Actor) Attributes() (map[string]string, error) {
	var attributes map[string]string

	err := actor.mailbox.Call(func() error {
		attributes = actor.state().Attributes

		return nil
	})

	return attributes, err
}

// State returns a copy of the actor's state or ENoSuchActor if it has never
// committed a change
func (actor *Actor) State() (ActorState, error) {
	var state ActorState

	err := actor.mailbox.Call(func() error {
		if !actor.exists {
			return ENoSuchActor
		}

		state = actor.state()

		return nil
	})

	return state, err
}

func (actor *Actor) GetActiveWorkflowIdsSet(ctx context.Context) (WorkflowIDSet, error) {
	var ids WorkflowIDSet

	err := actor.mailbox.Call(func() error {
		ids = actor.activeWorkflowIDs.Clone()

		return nil
	})

	return ids, err
}

// RemoveFromActiveWorkflowIds forgets confirmed or abandoned workflow ids.
// The ids stay in memory if the new set cannot be persisted.
func (actor *Actor) RemoveFromActiveWorkflowIds(ctx context.Context, ids WorkflowIDSet) error {
	return actor.mailbox.Call(func() error {
		previousActive := actor.activeWorkflowIDs.Clone()
		previousFailed := actor.failedIndexes
		actor.failedIndexes = make(map[uuid.UUID]string, len(previousFailed))

		for id, reason := range previousFailed {
			if !ids.Contains(id) {
				actor.failedIndexes[id] = reason
			}
		}

		for id, _ := range ids {
			delete(actor.activeWorkflowIDs, id)
		}

		if err := actor.persist(); err != nil {
			actor.activeWorkflowIDs = previousActive
			actor.failedIndexes = previousFailed

			return err
		}

		return nil
	})
}

// IndexUpdateFailed records that an index permanently refused a committed
// change. The workflow id stays open until the failed record is resolved.
func (actor *Actor) IndexUpdateFailed(ctx context.Context, workflowID uuid.UUID, indexName string, err error) {
	actor.mailbox.Call(func() error {
		Log.Warningf("Index %s permanently refused workflow %s of actor %s/%s: %v", indexName, workflowID, actor.actorType, actor.ref, err)

		actor.failedIndexes[workflowID] = indexName

		return actor.persist()
	})
}

func (actor *Actor) close() {
	actor.mailbox.Close()
}

func attributeImage(attributes map[string]string, attribute string) *string {
	value, ok := attributes[attribute]

	if !ok {
		return nil
	}

	return Value(value)
}

func sortedIndexNames(updates map[string]MemberUpdate) []string {
	indexNames := make([]string, 0, len(updates))

	for indexName, _ := range updates {
		indexNames = append(indexNames, indexName)
	}

	sort.Strings(indexNames)

	return indexNames
}
