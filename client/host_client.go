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
	"time"

	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/routes"
	. "github.com/PelionIoT/indexflow/update"
)

type HostClientConfig struct {
	Hosts   HostDirectory
	Timeout time.Duration
}

// HostClient reaches the buckets other hosts hold through their host routes.
// A host that cannot be reached fails with EHostUnreachable. Errors of the
// remote buckets are returned as the same DBerror.
type HostClient struct {
	hosts      HostDirectory
	httpClient *http.Client
}

func NewHostClient(config HostClientConfig) *HostClient {
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}

	return &HostClient{
		hosts: config.Hosts,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (hostClient *HostClient) send(ctx context.Context, host HostRef, httpVerb string, endpoint string, body []byte) ([]byte, error) {
	address, ok := hostClient.hosts.Address(host)

	if !ok {
		Log.Warningf("Host %s has no known address", host)

		return nil, EHostUnreachable
	}

	responseBody, err := sendRequest(ctx, hostClient.httpClient, httpVerb, fmt.Sprintf("http://%s%s", address, endpoint), body)

	if err == nil {
		return responseBody, nil
	}

	if _, ok := err.(DBerror); ok {
		return nil, err
	}

	Log.Warningf("%s %s at host %s failed: %v", httpVerb, endpoint, host, err)

	return nil, EHostUnreachable
}

func (hostClient *HostClient) ApplyUpdate(ctx context.Context, host HostRef, indexName string, targetActor ActorRef, memberUpdate MemberUpdate) error {
	encodedUpdate, _ := json.Marshal(routes.HostUpdate{Actor: targetActor, Update: memberUpdate})
	_, err := hostClient.send(ctx, host, "POST", fmt.Sprintf("/hosts/indexes/%s/updates", url.PathEscape(indexName)), encodedUpdate)

	return err
}

func (hostClient *HostClient) ApplyUpdateBatch(ctx context.Context, host HostRef, indexName string, updates map[ActorRef][]MemberUpdate) error {
	encodedBatch, _ := json.Marshal(routes.HostBatch{Updates: updates})
	_, err := hostClient.send(ctx, host, "POST", fmt.Sprintf("/hosts/indexes/%s/batches", url.PathEscape(indexName)), encodedBatch)

	return err
}

func (hostClient *HostClient) Lookup(ctx context.Context, host HostRef, indexName string, key string) ([]ActorRef, error) {
	responseBody, err := hostClient.send(ctx, host, "GET", fmt.Sprintf("/hosts/indexes/%s/keys/%s", url.PathEscape(indexName), url.PathEscape(key)), nil)

	if err != nil {
		return nil, err
	}

	var result routes.LookupResult

	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, err
	}

	return result.Actors, nil
}

func (hostClient *HostClient) Dispose(ctx context.Context, host HostRef, indexName string) error {
	_, err := hostClient.send(ctx, host, "DELETE", fmt.Sprintf("/hosts/indexes/%s", url.PathEscape(indexName)), nil)

	return err
}
