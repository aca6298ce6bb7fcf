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
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/update"
)

// AttributeChanges is the body of an actor update. A null value removes the
// attribute.
type AttributeChanges struct {
	Attributes map[string]*string `json:"attributes"`
}

type LookupResult struct {
	Index  string     `json:"index"`
	Key    string     `json:"key"`
	Actors []ActorRef `json:"actors"`
}

// HostUpdate carries one member update to the host holding the bucket
type HostUpdate struct {
	Actor  ActorRef     `json:"actor"`
	Update MemberUpdate `json:"update"`
}

type HostBatch struct {
	Updates map[ActorRef][]MemberUpdate `json:"updates"`
}
