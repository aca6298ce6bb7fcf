package cluster

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
	"sort"
	"sync"

	. "github.com/PelionIoT/indexflow/data"
)

// HostDirectory reports which hosts currently take part in the cluster. The
// answer may change between two calls.
type HostDirectory interface {
	ListActiveHosts() []HostRef
	Address(host HostRef) (string, bool)
}

type HostConfig struct {
	ID      HostRef
	Address string
}

// StaticHostDirectory is a membership list maintained by explicit calls,
// seeded from the server configuration.
type StaticHostDirectory struct {
	mu    sync.RWMutex
	hosts map[HostRef]string
}

func NewStaticHostDirectory(hosts []HostConfig) *StaticHostDirectory {
	directory := &StaticHostDirectory{
		hosts: make(map[HostRef]string, len(hosts)),
	}

	for _, host := range hosts {
		directory.hosts[host.ID] = host.Address
	}

	return directory
}

func (directory *StaticHostDirectory) ListActiveHosts() []HostRef {
	directory.mu.RLock()
	defer directory.mu.RUnlock()

	hosts := make([]HostRef, 0, len(directory.hosts))

	for host, _ := range directory.hosts {
		hosts = append(hosts, host)
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i] < hosts[j]
	})

	return hosts
}

func (directory *StaticHostDirectory) Address(host HostRef) (string, bool) {
	directory.mu.RLock()
	defer directory.mu.RUnlock()

	address, ok := directory.hosts[host]

	return address, ok
}

func (directory *StaticHostDirectory) AddHost(host HostConfig) {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	directory.hosts[host.ID] = host.Address
}

func (directory *StaticHostDirectory) RemoveHost(host HostRef) {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	delete(directory.hosts, host)
}
