package client_test

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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/indexflow/client"
	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/index"
	"github.com/PelionIoT/indexflow/routes"
	. "github.com/PelionIoT/indexflow/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("HostClient", func() {
	var registry *Registry
	var homeDispatcher *Dispatcher
	var server *httptest.Server
	var hosts *StaticHostDirectory
	var dispatcher *Dispatcher
	ctx := context.Background()

	BeforeEach(func() {
		registry = NewRegistry()

		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "names", Attribute: "name", Unique: true})).Should(BeNil())
		Expect(registry.Register(IndexDescriptor{TypeName: "player", Name: "levels", Attribute: "level", Kind: ChainedPerKeyHash, Buckets: 2})).Should(BeNil())

		// The home host holds the buckets in memory and serves them
		homeDispatcher = NewDispatcher(DispatcherConfig{Registry: registry, LocalHost: "a-host"})
		router := mux.NewRouter()
		(&routes.HostBucketsEndpoint{Buckets: homeDispatcher}).Attach(router)
		server = httptest.NewServer(router)

		hosts = NewStaticHostDirectory([]HostConfig{
			{ID: "a-host", Address: strings.TrimPrefix(server.URL, "http://")},
			{ID: "b-host", Address: "127.0.0.1:1"},
		})
		dispatcher = NewDispatcher(DispatcherConfig{
			Registry:   registry,
			LocalHost:  "b-host",
			Hosts:      hosts,
			HostClient: NewHostClient(HostClientConfig{Hosts: hosts}),
		})
	})

	AfterEach(func() {
		server.Close()
		dispatcher.Close()
		homeDispatcher.Close()
	})

	It("Should apply updates and look up keys at the home host", func() {
		Expect(dispatcher.Apply(ctx, "names", "A", Compute(nil, Value("alice")), "")).Should(BeNil())
		Expect(dispatcher.LookupUnique(ctx, "names", "alice")).Should(Equal(ActorRef("A")))
		Expect(homeDispatcher.LookupLocal("names", "alice")).Should(Equal([]ActorRef{"A"}))
	})

	It("Should return the bucket errors of the remote host unchanged", func() {
		Expect(dispatcher.Apply(ctx, "names", "A", Compute(nil, Value("alice")), "")).Should(BeNil())
		Expect(dispatcher.Apply(ctx, "names", "B", Compute(nil, Value("alice")), "")).Should(Equal(EUniquenessViolation))
		Expect(dispatcher.Apply(ctx, "colors", "B", Compute(nil, Value("red")), "")).Should(Equal(ENoSuchIndex))
	})

	It("Should send batches to the home host", func() {
		Expect(dispatcher.ApplyBatch(ctx, "levels", map[ActorRef][]MemberUpdate{
			"A": []MemberUpdate{Compute(nil, Value("1"))},
			"B": []MemberUpdate{Compute(nil, Value("1"))},
		}, "")).Should(BeNil())
		Expect(dispatcher.Lookup(ctx, "levels", "1")).Should(Equal([]ActorRef{"A", "B"}))
	})

	It("Should dispose the buckets at the home host", func() {
		Expect(dispatcher.Apply(ctx, "names", "A", Compute(nil, Value("alice")), "")).Should(BeNil())
		Expect(dispatcher.Dispose(ctx, "names")).Should(BeNil())

		_, err := homeDispatcher.LookupLocal("names", "alice")

		Expect(err).Should(Equal(EDisposed))
	})

	It("Should report a host without an address as unreachable", func() {
		client := NewHostClient(HostClientConfig{Hosts: hosts})

		Expect(client.ApplyUpdate(ctx, "c-host", "names", "A", Compute(nil, Value("alice")))).Should(Equal(EHostUnreachable))
	})

	It("Should report a host that does not answer as unreachable", func() {
		client := NewHostClient(HostClientConfig{Hosts: hosts})

		_, err := client.Lookup(ctx, "b-host", "names", "alice")

		Expect(err).Should(Equal(EHostUnreachable))
	})
})

var _ = Describe("APIClient", func() {
	It("Should decode the DBerror a server responds with", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, string(ENoSuchQueue.JSON()))
		}))
		defer server.Close()

		client := New(APIClientConfig{Servers: []string{strings.TrimPrefix(server.URL, "http://")}})

		Expect(client.RestartQueue(context.Background(), "player/0")).Should(Equal(ENoSuchQueue))
	})

	It("Should return the status and body of a response without a DBerror", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream")
		}))
		defer server.Close()

		client := New(APIClientConfig{Servers: []string{strings.TrimPrefix(server.URL, "http://")}})
		_, err := client.Queues(context.Background())

		Expect(err).Should(Equal(&ErrorStatusCode{StatusCode: http.StatusBadGateway, Message: "upstream"}))
	})

	It("Should send requests to the servers in turn", func() {
		var hits []string

		newServer := func(name string) *httptest.Server {
			return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits = append(hits, name)
				io.WriteString(w, "[]")
			}))
		}

		first := newServer("first")
		defer first.Close()
		second := newServer("second")
		defer second.Close()

		client := New(APIClientConfig{Servers: []string{
			strings.TrimPrefix(first.URL, "http://"),
			strings.TrimPrefix(second.URL, "http://"),
		}})

		for i := 0; i < 3; i++ {
			_, err := client.Indexes(context.Background())

			Expect(err).Should(BeNil())
		}

		Expect(hits).Should(Equal([]string{"first", "second", "first"}))
	})
})
