package mailbox

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
	"sync"

	. "github.com/PelionIoT/indexflow/error"
)

// Mailbox runs the tasks submitted to one instance one at a time in
// submission order. A task may call other instances and wait for them, but it
// must never submit to its own mailbox and wait, since the mailbox only
// starts the next task after the current one returns.
type Mailbox struct {
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
}

func New() *Mailbox {
	mailbox := &Mailbox{
		tasks:   make([]func(), 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}

	go mailbox.run()

	return mailbox
}

func (mailbox *Mailbox) run() {
	defer close(mailbox.stopped)

	for {
		task, ok := mailbox.next()

		if !ok {
			return
		}

		if task == nil {
			<-mailbox.signal

			continue
		}

		task()
	}
}

// next returns the next task, a nil task if there is nothing to do yet or
// false once the mailbox is closed and drained.
func (mailbox *Mailbox) next() (func(), bool) {
	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()

	if len(mailbox.tasks) == 0 {
		if mailbox.closed {
			return nil, false
		}

		return nil, true
	}

	task := mailbox.tasks[0]
	mailbox.tasks[0] = nil

	if len(mailbox.tasks) == 1 {
		mailbox.tasks = mailbox.tasks[:0]
	} else {
		mailbox.tasks = mailbox.tasks[1:]
	}

	return task, true
}

func (mailbox *Mailbox) enqueue(task func()) bool {
	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()

	if mailbox.closed {
		return false
	}

	mailbox.tasks = append(mailbox.tasks, task)

	select {
	case mailbox.signal <- struct{}{}:
	default:
	}

	return true
}

// Call runs fn as the next turn of this mailbox and waits for its result.
func (mailbox *Mailbox) Call(fn func() error) error {
	var result error
	done := make(chan struct{})

	ok := mailbox.enqueue(func() {
		defer close(done)

		result = fn()
	})

	if !ok {
		return EQueueClosed
	}

	<-done

	return result
}

// Post schedules fn without waiting for it to run. It returns false if the
// mailbox is closed.
func (mailbox *Mailbox) Post(fn func()) bool {
	return mailbox.enqueue(fn)
}

// Close stops accepting tasks and waits until every accepted task has run.
func (mailbox *Mailbox) Close() {
	mailbox.mu.Lock()

	if mailbox.closed {
		mailbox.mu.Unlock()
		<-mailbox.stopped

		return
	}

	mailbox.closed = true

	select {
	case mailbox.signal <- struct{}{}:
	default:
	}

	mailbox.mu.Unlock()

	<-mailbox.stopped
}
