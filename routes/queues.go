package routes

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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/google/uuid"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/workflow"
)

type QueuesFacade interface {
	Queues() []QueueStatus
	FailedWorkflows(queueID string) ([]FailedWorkflow, error)
	ResolveFailed(ctx context.Context, queueID string, workflowID uuid.UUID, retry bool) (*WorkflowRecord, error)
	RestartQueue(ctx context.Context, queueID string) error
}

type QueuesEndpoint struct {
	Queues QueuesFacade
}

func (queuesEndpoint *QueuesEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/queues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, queuesEndpoint.Queues.Queues())
	}).Methods("GET")

	// Queue ids contain a slash so they are split into type and partition
	router.HandleFunc("/queues/{type}/{partition}/failed", func(w http.ResponseWriter, r *http.Request) {
		failed, err := queuesEndpoint.Queues.FailedWorkflows(queueIDOf(r))

		if err != nil {
			Log.Warningf("GET /queues/{queue}/failed: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, failed)
	}).Methods("GET")

	router.HandleFunc("/queues/{type}/{partition}/failed/{workflow}", func(w http.ResponseWriter, r *http.Request) {
		workflowID, err := uuid.Parse(mux.Vars(r)["workflow"])

		if err != nil {
			Log.Warningf("POST /queues/{queue}/failed/{workflow}: Unable to parse workflow id: %v", err)

			writeBadRequest(w)

			return
		}

		var retry bool

		switch r.URL.Query().Get("action") {
		case "retry":
			retry = true
		case "discard":
			retry = false
		default:
			Log.Warningf("POST /queues/{queue}/failed/{workflow}: action must be retry or discard")

			writeBadRequest(w)

			return
		}

		record, err := queuesEndpoint.Queues.ResolveFailed(r.Context(), queueIDOf(r), workflowID, retry)

		if err != nil {
			Log.Warningf("POST /queues/{queue}/failed/{workflow}: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, record)
	}).Methods("POST")

	router.HandleFunc("/queues/{type}/{partition}/restart", func(w http.ResponseWriter, r *http.Request) {
		if err := queuesEndpoint.Queues.RestartQueue(r.Context(), queueIDOf(r)); err != nil {
			Log.Warningf("POST /queues/{queue}/restart: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, struct{}{})
	}).Methods("POST")
}

func queueIDOf(r *http.Request) string {
	return mux.Vars(r)["type"] + "/" + mux.Vars(r)["partition"]
}
