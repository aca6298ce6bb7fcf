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

	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/logging"
)

type IndexesFacade interface {
	Indexes() []IndexInfo
	Lookup(ctx context.Context, indexName string, key string) ([]ActorRef, error)
	LookupUnique(ctx context.Context, indexName string, key string) (ActorRef, error)
	Dispose(ctx context.Context, indexName string) error
}

type IndexesEndpoint struct {
	Indexes IndexesFacade
}

func (indexesEndpoint *IndexesEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/indexes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, indexesEndpoint.Indexes.Indexes())
	}).Methods("GET")

	// Look up the actors holding a key. With unique=true exactly one actor
	// must hold it.
	router.HandleFunc("/indexes/{index}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		indexName := mux.Vars(r)["index"]
		key := mux.Vars(r)["key"]
		result := LookupResult{Index: indexName, Key: key}

		if r.URL.Query().Get("unique") == "true" {
			actor, err := indexesEndpoint.Indexes.LookupUnique(r.Context(), indexName, key)

			if err != nil {
				Log.Warningf("GET /indexes/{index}/keys/{key}: %v", err)

				writeError(w, err)

				return
			}

			result.Actors = []ActorRef{actor}

			writeJSON(w, result)

			return
		}

		actors, err := indexesEndpoint.Indexes.Lookup(r.Context(), indexName, key)

		if err != nil {
			Log.Warningf("GET /indexes/{index}/keys/{key}: %v", err)

			writeError(w, err)

			return
		}

		result.Actors = actors

		if result.Actors == nil {
			result.Actors = []ActorRef{}
		}

		writeJSON(w, result)
	}).Methods("GET")

	router.HandleFunc("/indexes/{index}", func(w http.ResponseWriter, r *http.Request) {
		if err := indexesEndpoint.Indexes.Dispose(r.Context(), mux.Vars(r)["index"]); err != nil {
			Log.Warningf("DELETE /indexes/{index}: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, struct{}{})
	}).Methods("DELETE")
}
