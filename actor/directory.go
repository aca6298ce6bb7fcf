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
	"sort"
	"sync"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/mailbox"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/util"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"
)

const actorNamespace = "actor"

type DirectoryConfig struct {
	StorageDriver StorageDriver
	Registry      *Registry
	Applier       IndexApplier
	Queues        QueueRouter
	LocalHost     HostRef
}

// Directory activates the actors hosted here on first use. An actor's state
// lives under the namespace of its type so that the actors of one type can be
// listed during recovery.
type Directory struct {
	config         DirectoryConfig
	activationLock *MultiLock
	lock           sync.Mutex
	actors         map[string]*Actor
}

func NewDirectory(config DirectoryConfig) *Directory {
	return &Directory{
		config:         config,
		activationLock: NewMultiLock(),
		actors:         make(map[string]*Actor),
	}
}

func actorKey(actorType string, ref ActorRef) string {
	return actorType + "/" + string(ref)
}

func (directory *Directory) storageFor(actorType string) StorageDriver {
	return NewNamespacedStorageDriver(actorNamespace, actorType, directory.config.StorageDriver)
}

func (directory *Directory) active(key string) (*Actor, bool) {
	directory.lock.Lock()
	defer directory.lock.Unlock()

	actor, ok := directory.actors[key]

	return actor, ok
}

// Activate returns the actor, loading its state from storage if it is not
// active yet. An actor that was never stored starts out empty.
func (directory *Directory) Activate(actorType string, ref ActorRef) (*Actor, error) {
	key := actorKey(actorType, ref)

	if actor, ok := directory.active(key); ok {
		return actor, nil
	}

	directory.activationLock.Lock([]byte(key))
	defer directory.activationLock.Unlock([]byte(key))

	if actor, ok := directory.active(key); ok {
		return actor, nil
	}

	actor := &Actor{
		actorType:         actorType,
		ref:               ref,
		host:              directory.config.LocalHost,
		registry:          directory.config.Registry,
		applier:           directory.config.Applier,
		queues:            directory.config.Queues,
		storageDriver:     directory.storageFor(actorType),
		attributes:        make(map[string]string),
		activeWorkflowIDs: NewWorkflowIDSet(),
		failedIndexes:     make(map[uuid.UUID]string),
	}

	if err := actor.load(); err != nil {
		Log.Errorf("Unable to activate actor %s: %v", key, err)

		return nil, err
	}

	actor.mailbox = mailbox.New()

	directory.lock.Lock()
	directory.actors[key] = actor
	directory.lock.Unlock()

	Log.Debugf("Activated actor %s with %d open workflows", key, len(actor.activeWorkflowIDs))

	return actor, nil
}

func (directory *Directory) Resolve(ctx context.Context, actorType string, ref ActorRef) (IndexableActor, error) {
	return directory.Activate(actorType, ref)
}

// IndexedActors lists every stored actor of a type, active or not
func (directory *Directory) IndexedActors(ctx context.Context, actorType string) ([]ActorRef, error) {
	iter, err := directory.storageFor(actorType).GetMatches([][]byte{[]byte(actorStateKeyPrefix)})

	if err != nil {
		return nil, err
	}

	defer iter.Release()

	refs := []ActorRef{}

	for iter.Next() {
		refs = append(refs, ActorRef(iter.Key()[len(actorStateKeyPrefix):]))
	}

	if iter.Error() != nil {
		return nil, iter.Error()
	}

	return refs, nil
}

// HostOf reports this host for the actors active here
func (directory *Directory) HostOf(ref ActorRef) (HostRef, bool) {
	directory.lock.Lock()
	defer directory.lock.Unlock()

	for _, actor := range directory.actors {
		if actor.ref == ref {
			return directory.config.LocalHost, true
		}
	}

	return "", false
}

// Active returns the keys of the active actors
func (directory *Directory) Active() []string {
	directory.lock.Lock()
	defer directory.lock.Unlock()

	keys := make([]string, 0, len(directory.actors))

	for key, _ := range directory.actors {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Deactivate stops an actor. Its next use loads it from storage again.
func (directory *Directory) Deactivate(actorType string, ref ActorRef) {
	key := actorKey(actorType, ref)

	directory.activationLock.Lock([]byte(key))
	defer directory.activationLock.Unlock([]byte(key))

	directory.lock.Lock()
	actor, ok := directory.actors[key]
	delete(directory.actors, key)
	directory.lock.Unlock()

	if ok {
		actor.close()
	}
}

func (directory *Directory) Close() {
	directory.lock.Lock()
	actors := directory.actors
	directory.actors = make(map[string]*Actor)
	directory.lock.Unlock()

	for _, actor := range actors {
		actor.close()
	}
}
