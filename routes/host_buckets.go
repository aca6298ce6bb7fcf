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
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/update"
)

// HostBucketsFacade is the part of the dispatcher that serves the buckets
// this host holds to the other hosts
type HostBucketsFacade interface {
	ApplyLocal(indexName string, targetActor ActorRef, memberUpdate MemberUpdate) error
	ApplyBatchLocal(indexName string, updates map[ActorRef][]MemberUpdate) error
	LookupLocal(indexName string, key string) ([]ActorRef, error)
	DisposeLocal(indexName string) error
}

type HostBucketsEndpoint struct {
	Buckets HostBucketsFacade
}

func (hostBucketsEndpoint *HostBucketsEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/hosts/indexes/{index}/updates", func(w http.ResponseWriter, r *http.Request) {
		var hostUpdate HostUpdate

		if err := json.NewDecoder(r.Body).Decode(&hostUpdate); err != nil {
			Log.Warningf("POST /hosts/indexes/{index}/updates: Unable to parse request body: %v", err)

			writeBadRequest(w)

			return
		}

		if !hostUpdate.Update.Validate() {
			writeError(w, EInvalidUpdate)

			return
		}

		if err := hostBucketsEndpoint.Buckets.ApplyLocal(mux.Vars(r)["index"], hostUpdate.Actor, hostUpdate.Update); err != nil {
			Log.Debugf("POST /hosts/indexes/{index}/updates: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, struct{}{})
	}).Methods("POST")

	router.HandleFunc("/hosts/indexes/{index}/batches", func(w http.ResponseWriter, r *http.Request) {
		var hostBatch HostBatch

		if err := json.NewDecoder(r.Body).Decode(&hostBatch); err != nil {
			Log.Warningf("POST /hosts/indexes/{index}/batches: Unable to parse request body: %v", err)

			writeBadRequest(w)

			return
		}

		for _, memberUpdates := range hostBatch.Updates {
			for _, memberUpdate := range memberUpdates {
				if !memberUpdate.Validate() {
					writeError(w, EInvalidUpdate)

					return
				}
			}
		}

		if err := hostBucketsEndpoint.Buckets.ApplyBatchLocal(mux.Vars(r)["index"], hostBatch.Updates); err != nil {
			Log.Debugf("POST /hosts/indexes/{index}/batches: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, struct{}{})
	}).Methods("POST")

	router.HandleFunc("/hosts/indexes/{index}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		key := mux.Vars(r)["key"]
		actors, err := hostBucketsEndpoint.Buckets.LookupLocal(indexName, key)

		if err != nil {
			Log.Debugf("GET /hosts/indexes/{index}/keys/{key}: %v", err)

			writeError(w, err)

			return
		}

		if actors == nil {
			actors = []ActorRef{}
		}

		writeJSON(w, LookupResult{Index: indexName, Key: key, Actors: actors})
	}).Methods("GET")

	router.HandleFunc("/hosts/indexes/{index}", func(w http.ResponseWriter, r *http.Request) {
		if err := hostBucketsEndpoint.Buckets.DisposeLocal(mux.Vars(r)["index"]); err != nil {
			Log.Debugf("DELETE /hosts/indexes/{index}: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, struct{}{})
	}).Methods("DELETE")
}
