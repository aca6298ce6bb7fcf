package client

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
	"fmt"
	"net/http"
	"net/url"
	"sync"

	. "github.com/PelionIoT/indexflow/actor"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/index"
	"github.com/PelionIoT/indexflow/routes"
	. "github.com/PelionIoT/indexflow/workflow"

	"github.com/google/uuid"
)

type APIClientConfig struct {
	Servers []string
}

// APIClient talks to the admin routes of a set of servers. Requests go to
// the servers in turn.
type APIClient struct {
	servers         []string
	lock            sync.Mutex
	nextServerIndex int
	httpClient      *http.Client
}

func New(config APIClientConfig) *APIClient {
	return &APIClient{
		servers:         config.Servers,
		nextServerIndex: 0,
		httpClient:      &http.Client{Timeout: DefaultClientTimeout},
	}
}

func (client *APIClient) nextServer() (server string) {
	client.lock.Lock()
	defer client.lock.Unlock()

	if len(client.servers) == 0 {
		return
	}

	server = client.servers[client.nextServerIndex]
	client.nextServerIndex = (client.nextServerIndex + 1) % len(client.servers)

	return
}

func (client *APIClient) sendRequest(ctx context.Context, httpVerb string, endpointURL string, body []byte, result interface{}) error {
	responseBody, err := sendRequest(ctx, client.httpClient, httpVerb, fmt.Sprintf("http://%s%s", client.nextServer(), endpointURL), body)

	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	return json.Unmarshal(responseBody, result)
}

func (client *APIClient) SetAttributes(ctx context.Context, actorType string, actor ActorRef, changes map[string]*string) (ActorState, error) {
	var state ActorState

	encodedChanges, _ := json.Marshal(routes.AttributeChanges{Attributes: changes})
	err := client.sendRequest(ctx, "PUT", actorPath(actorType, actor), encodedChanges, &state)

	return state, err
}

func (client *APIClient) GetActor(ctx context.Context, actorType string, actor ActorRef) (ActorState, error) {
	var state ActorState

	err := client.sendRequest(ctx, "GET", actorPath(actorType, actor), nil, &state)

	return state, err
}

func (client *APIClient) Indexes(ctx context.Context) ([]IndexInfo, error) {
	var indexes []IndexInfo

	err := client.sendRequest(ctx, "GET", "/indexes", nil, &indexes)

	return indexes, err
}

func (client *APIClient) Lookup(ctx context.Context, indexName string, key string) ([]ActorRef, error) {
	var result routes.LookupResult

	if err := client.sendRequest(ctx, "GET", keyPath(indexName, key), nil, &result); err != nil {
		return nil, err
	}

	return result.Actors, nil
}

func (client *APIClient) LookupUnique(ctx context.Context, indexName string, key string) (ActorRef, error) {
	var result routes.LookupResult

	if err := client.sendRequest(ctx, "GET", keyPath(indexName, key)+"?unique=true", nil, &result); err != nil {
		return "", err
	}

	if len(result.Actors) != 1 {
		return "", fmt.Errorf("Expected one actor for key %s but the server returned %d", key, len(result.Actors))
	}

	return result.Actors[0], nil
}

func (client *APIClient) DisposeIndex(ctx context.Context, indexName string) error {
	return client.sendRequest(ctx, "DELETE", "/indexes/"+url.PathEscape(indexName), nil, nil)
}

func (client *APIClient) Queues(ctx context.Context) ([]QueueStatus, error) {
	var queues []QueueStatus

	err := client.sendRequest(ctx, "GET", "/queues", nil, &queues)

	return queues, err
}

func (client *APIClient) FailedWorkflows(ctx context.Context, queueID string) ([]FailedWorkflow, error) {
	var failed []FailedWorkflow

	err := client.sendRequest(ctx, "GET", "/queues/"+queueID+"/failed", nil, &failed)

	return failed, err
}

func (client *APIClient) ResolveFailed(ctx context.Context, queueID string, workflowID uuid.UUID, retry bool) (*WorkflowRecord, error) {
	var record WorkflowRecord

	action := "discard"

	if retry {
		action = "retry"
	}

	if err := client.sendRequest(ctx, "POST", fmt.Sprintf("/queues/%s/failed/%s?action=%s", queueID, workflowID, action), nil, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

func (client *APIClient) RestartQueue(ctx context.Context, queueID string) error {
	return client.sendRequest(ctx, "POST", "/queues/"+queueID+"/restart", nil, nil)
}

func actorPath(actorType string, actor ActorRef) string {
	return fmt.Sprintf("/actors/%s/%s", url.PathEscape(actorType), url.PathEscape(string(actor)))
}

func keyPath(indexName string, key string) string {
	return fmt.Sprintf("/indexes/%s/keys/%s", url.PathEscape(indexName), url.PathEscape(key))
}
