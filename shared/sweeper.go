package shared

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
	"sync"
	"time"

	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/workflow"
)

// RecoverySweeper periodically recovers the workflow queues that are not
// initialized yet, such as a queue whose recovery failed at startup or a
// partition that was never acquired.
type RecoverySweeper struct {
	coordinator   *RecoveryCoordinator
	actorTypes    []string
	sweepInterval time.Duration
	done          chan bool
	stopOnce      sync.Once
}

func NewRecoverySweeper(coordinator *RecoveryCoordinator, actorTypes []string, sweepInterval time.Duration) *RecoverySweeper {
	return &RecoverySweeper{
		coordinator:   coordinator,
		actorTypes:    actorTypes,
		sweepInterval: sweepInterval,
		done:          make(chan bool),
	}
}

// Sweep recovers every uninitialized queue and returns how many it
// recovered
func (recoverySweeper *RecoverySweeper) Sweep(ctx context.Context) int {
	pool := recoverySweeper.coordinator.Pool
	recovered := 0

	for _, actorType := range recoverySweeper.actorTypes {
		for partition := uint64(0); partition < pool.PartitionCount; partition++ {
			queue := pool.Acquire(actorType, partition)
			status := queue.Status()

			if status.Failed > 0 {
				Log.Warningf("Workflow queue %s holds %d permanently failed records", status.ID, status.Failed)
			}

			if status.Initialized {
				continue
			}

			if err := recoverySweeper.coordinator.Recover(ctx, queue, nil); err != nil {
				Log.Warningf("Unable to recover workflow queue %s: %v", status.ID, err)

				continue
			}

			recovered++
		}
	}

	return recovered
}

func (recoverySweeper *RecoverySweeper) Start() {
	go func() {
		for {
			select {
			case <-recoverySweeper.done:
				return
			case <-time.After(recoverySweeper.sweepInterval):
				if recovered := recoverySweeper.Sweep(context.Background()); recovered > 0 {
					Log.Infof("Recovery sweep recovered %d workflow queues", recovered)
				}
			}
		}
	}()
}

func (recoverySweeper *RecoverySweeper) Stop() {
	recoverySweeper.stopOnce.Do(func() {
		close(recoverySweeper.done)
	})
}
