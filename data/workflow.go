package data

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
	"encoding/json"
	"sort"

	. "github.com/PelionIoT/indexflow/update"

	"github.com/google/uuid"
)

// ActorRef identifies an actor. It is stable across activations.
type ActorRef string

// HostRef identifies a process in the cluster on which actors are active.
type HostRef string

// WorkflowRecord is the pending index work produced by one committed change
// of one actor. Entries are removed as each index confirms the update.
type WorkflowRecord struct {
	WorkflowID     uuid.UUID               `json:"workflowId"`
	TargetActor    ActorRef                `json:"targetActor"`
	ActorType      string                  `json:"actorType"`
	UpdatesByIndex map[string]MemberUpdate `json:"updates"`
}

func NewWorkflowRecord(targetActor ActorRef, actorType string, updatesByIndex map[string]MemberUpdate) *WorkflowRecord {
	record := &WorkflowRecord{
		WorkflowID:     uuid.New(),
		TargetActor:    targetActor,
		ActorType:      actorType,
		UpdatesByIndex: make(map[string]MemberUpdate, len(updatesByIndex)),
	}

	for indexName, memberUpdate := range updatesByIndex {
		record.UpdatesByIndex[indexName] = memberUpdate
	}

	return record
}

func (record *WorkflowRecord) Clone() *WorkflowRecord {
	clone := *record
	clone.UpdatesByIndex = make(map[string]MemberUpdate, len(record.UpdatesByIndex))

	for indexName, memberUpdate := range record.UpdatesByIndex {
		clone.UpdatesByIndex[indexName] = memberUpdate
	}

	return &clone
}

// IndexNames returns the names of the indexes that still have to apply this
// record, sorted so that they are applied in a stable order.
func (record *WorkflowRecord) IndexNames() []string {
	indexNames := make([]string, 0, len(record.UpdatesByIndex))

	for indexName, _ := range record.UpdatesByIndex {
		indexNames = append(indexNames, indexName)
	}

	sort.Strings(indexNames)

	return indexNames
}

func (record *WorkflowRecord) RemoveIndexUpdates(indexNames []string) {
	for _, indexName := range indexNames {
		delete(record.UpdatesByIndex, indexName)
	}
}

func (record *WorkflowRecord) IsEmpty() bool {
	return len(record.UpdatesByIndex) == 0
}

func (record *WorkflowRecord) ToJSON() ([]byte, error) {
	return json.Marshal(record)
}

func WorkflowRecordFromJSON(encoded []byte) (*WorkflowRecord, error) {
	var record WorkflowRecord

	if err := json.Unmarshal(encoded, &record); err != nil {
		return nil, err
	}

	if record.UpdatesByIndex == nil {
		record.UpdatesByIndex = map[string]MemberUpdate{}
	}

	return &record, nil
}

// WorkflowRecordNode links the records of one handoff. The last node of a
// handoff is a punctuation that carries no record.
type WorkflowRecordNode struct {
	Record      *WorkflowRecord
	Next        *WorkflowRecordNode
	punctuation bool
}

func NewWorkflowRecordNode(record *WorkflowRecord) *WorkflowRecordNode {
	return &WorkflowRecordNode{Record: record}
}

func NewPunctuation() *WorkflowRecordNode {
	return &WorkflowRecordNode{punctuation: true}
}

func (node *WorkflowRecordNode) IsPunctuation() bool {
	return node.punctuation
}

// Records returns the records from this node up to the first punctuation
func (node *WorkflowRecordNode) Records() []*WorkflowRecord {
	records := []*WorkflowRecord{}

	for current := node; current != nil && !current.IsPunctuation(); current = current.Next {
		records = append(records, current.Record)
	}

	return records
}

// WorkflowIDSet is the set of workflow ids an actor has not yet seen confirmed
type WorkflowIDSet map[uuid.UUID]bool

func NewWorkflowIDSet(ids ...uuid.UUID) WorkflowIDSet {
	set := make(WorkflowIDSet, len(ids))

	for _, id := range ids {
		set[id] = true
	}

	return set
}

func (set WorkflowIDSet) Contains(id uuid.UUID) bool {
	return set[id]
}

func (set WorkflowIDSet) Clone() WorkflowIDSet {
	clone := make(WorkflowIDSet, len(set))

	for id, _ := range set {
		clone[id] = true
	}

	return clone
}

func (set WorkflowIDSet) Slice() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))

	for id, _ := range set {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	return ids
}
