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
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/indexflow/actor"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/logging"
)

type ActorsFacade interface {
	SetAttributes(ctx context.Context, actorType string, actor ActorRef, changes map[string]*string) error
	GetActor(ctx context.Context, actorType string, actor ActorRef) (ActorState, error)
}

type ActorsEndpoint struct {
	Actors ActorsFacade
}

func (actorsEndpoint *ActorsEndpoint) Attach(router *mux.Router) {
	// Commit attribute changes of an actor
	router.HandleFunc("/actors/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		var changes AttributeChanges

		if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
			Log.Warningf("PUT /actors/{type}/{id}: Unable to parse request body: %v", err)

			writeBadRequest(w)

			return
		}

		actorType := mux.Vars(r)["type"]
		actorRef := ActorRef(mux.Vars(r)["id"])

		if err := actorsEndpoint.Actors.SetAttributes(r.Context(), actorType, actorRef, changes.Attributes); err != nil {
			Log.Warningf("PUT /actors/{type}/{id}: %v", err)

			writeError(w, err)

			return
		}

		state, err := actorsEndpoint.Actors.GetActor(r.Context(), actorType, actorRef)

		if err != nil {
			Log.Warningf("PUT /actors/{type}/{id}: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, state)
	}).Methods("PUT")

	router.HandleFunc("/actors/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		state, err := actorsEndpoint.Actors.GetActor(r.Context(), mux.Vars(r)["type"], ActorRef(mux.Vars(r)["id"]))

		if err != nil {
			Log.Warningf("GET /actors/{type}/{id}: %v", err)

			writeError(w, err)

			return
		}

		writeJSON(w, state)
	}).Methods("GET")
}
