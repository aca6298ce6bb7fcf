package server_test

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
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	. "github.com/PelionIoT/indexflow/client"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/server"
	. "github.com/PelionIoT/indexflow/shared"
	. "github.com/PelionIoT/indexflow/update"
	. "github.com/PelionIoT/indexflow/util"
	. "github.com/PelionIoT/indexflow/workflow"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var config YAMLServerConfig
	var server *Server
	var httpServer *httptest.Server
	var apiClient *APIClient
	ctx := context.Background()

	BeforeEach(func() {
		config = YAMLServerConfig{
			DBFile:     "/tmp/testserver-" + RandomString(),
			Port:       0,
			Host:       "host1",
			Partitions: 2,
			RetryDelay: 10,
			Indexes: []YAMLIndex{
				{Type: "player", Name: "names", Attribute: "name", Unique: true},
				{Type: "player", Name: "levels", Attribute: "level", Kind: "chained", Buckets: 4},
			},
		}

		Expect(config.Validate()).Should(BeNil())

		var err error

		server, err = NewServer(config)

		Expect(err).Should(BeNil())
		Expect(server.Recover(ctx)).Should(BeNil())

		httpServer = httptest.NewServer(server.Router())
		apiClient = New(APIClientConfig{Servers: []string{strings.TrimPrefix(httpServer.URL, "http://")}})
	})

	AfterEach(func() {
		httpServer.Close()
		server.Stop()
		os.RemoveAll(config.DBFile)
	})

	openWorkflows := func(actor ActorRef) func() int {
		return func() int {
			state, err := apiClient.GetActor(ctx, "player", actor)

			Expect(err).Should(BeNil())

			return len(state.ActiveWorkflowIDs)
		}
	}

	var failedQueueID string

	failedRecordOf := func(actor ActorRef) func() *FailedWorkflow {
		return func() *FailedWorkflow {
			queues, err := apiClient.Queues(ctx)

			Expect(err).Should(BeNil())

			for _, queue := range queues {
				failed, err := apiClient.FailedWorkflows(ctx, queue.ID)

				Expect(err).Should(BeNil())

				for i := range failed {
					if failed[i].Record.TargetActor == actor {
						failedQueueID = queue.ID

						return &failed[i]
					}
				}
			}

			return nil
		}
	}

	It("Should recover a queue for every partition of every indexed type", func() {
		queues, err := apiClient.Queues(ctx)

		Expect(err).Should(BeNil())
		Expect(len(queues)).Should(Equal(2))

		for _, queue := range queues {
			Expect(queue.ActorType).Should(Equal("player"))
			Expect(queue.Initialized).Should(BeTrue())
		}

		indexes, err := apiClient.Indexes(ctx)

		Expect(err).Should(BeNil())
		Expect(len(indexes)).Should(Equal(2))
	})

	It("Should make a committed change visible in every index", func() {
		state, err := apiClient.SetAttributes(ctx, "player", "A", map[string]*string{"name": Value("alice"), "level": Value("3")})

		Expect(err).Should(BeNil())
		Expect(state.Attributes).Should(Equal(map[string]string{"name": "alice", "level": "3"}))

		Eventually(openWorkflows("A"), time.Second*5).Should(Equal(0))
		Expect(apiClient.LookupUnique(ctx, "names", "alice")).Should(Equal(ActorRef("A")))
		Expect(apiClient.Lookup(ctx, "levels", "3")).Should(Equal([]ActorRef{"A"}))

		_, err = apiClient.GetActor(ctx, "player", "nobody")

		Expect(err).Should(Equal(ENoSuchActor))
	})

	It("Should keep a change that an index refuses as a failed record until it is discarded", func() {
		_, err := apiClient.SetAttributes(ctx, "player", "A", map[string]*string{"name": Value("alice")})

		Expect(err).Should(BeNil())
		Eventually(openWorkflows("A"), time.Second*5).Should(Equal(0))

		_, err = apiClient.SetAttributes(ctx, "player", "B", map[string]*string{"name": Value("alice")})

		Expect(err).Should(BeNil())
		Eventually(failedRecordOf("B"), time.Second*5).ShouldNot(BeNil())

		failed := failedRecordOf("B")()

		Expect(failed.Reason).Should(ContainSubstring(EUniquenessViolation.Error()))
		Expect(openWorkflows("B")()).Should(Equal(1))

		record, err := apiClient.ResolveFailed(ctx, failedQueueID, failed.Record.WorkflowID, false)

		Expect(err).Should(BeNil())
		Expect(record.WorkflowID).Should(Equal(failed.Record.WorkflowID))
		Expect(openWorkflows("B")()).Should(Equal(0))
		Expect(failedRecordOf("B")()).Should(BeNil())
		Expect(apiClient.LookupUnique(ctx, "names", "alice")).Should(Equal(ActorRef("A")))
	})

	It("Should restart a queue in place", func() {
		Expect(apiClient.RestartQueue(ctx, QueueID("player", 1))).Should(BeNil())
		Expect(apiClient.RestartQueue(ctx, QueueID("game", 1))).Should(Equal(ENoSuchQueue))

		queues, err := apiClient.Queues(ctx)

		Expect(err).Should(BeNil())
		Expect(len(queues)).Should(Equal(2))
		Expect(queues[1].Initialized).Should(BeTrue())
	})

	It("Should expose the metrics", func() {
		_, err := apiClient.SetAttributes(ctx, "player", "A", map[string]*string{"level": Value("3")})

		Expect(err).Should(BeNil())
		Eventually(openWorkflows("A"), time.Second*5).Should(Equal(0))

		resp, err := http.Get(httpServer.URL + "/metrics")

		Expect(err).Should(BeNil())

		defer resp.Body.Close()

		body, _ := ioutil.ReadAll(resp.Body)

		Expect(resp.StatusCode).Should(Equal(http.StatusOK))
		Expect(string(body)).Should(ContainSubstring("indexflow_bucket_updates"))
		Expect(string(body)).Should(ContainSubstring("indexflow_workflow_records_applied"))
	})
})
