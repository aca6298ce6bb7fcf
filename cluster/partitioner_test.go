package cluster_test

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
	"fmt"

	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Partitioner", func() {
	Describe("SimplePartitioningStrategy", func() {
		Describe("#Partition", func() {
			It("Should always map the same key to the same partition", func() {
				ps := &SimplePartitioningStrategy{}

				for i := 0; i < 100; i++ {
					key := fmt.Sprintf("actor-%d", i)

					Expect(ps.Partition(key, 16)).Should(Equal(ps.Partition(key, 16)))
					Expect(ps.Partition(key, 16)).Should(BeNumerically("<", 16))
				}
			})

			It("Should spread keys across more than one partition", func() {
				ps := &SimplePartitioningStrategy{}
				seen := map[uint64]bool{}

				for i := 0; i < 100; i++ {
					seen[ps.Partition(fmt.Sprintf("actor-%d", i), 4)] = true
				}

				Expect(len(seen)).Should(BeNumerically(">", 1))
			})

			It("Should return 0 when the partition count is 0", func() {
				ps := &SimplePartitioningStrategy{}

				Expect(ps.Partition("a", 0)).Should(Equal(uint64(0)))
			})
		})
	})
})

var _ = Describe("StaticHostDirectory", func() {
	It("Should list the hosts it was seeded with in sorted order", func() {
		directory := NewStaticHostDirectory([]HostConfig{
			{ID: "host-b", Address: "127.0.0.1:9091"},
			{ID: "host-a", Address: "127.0.0.1:9090"},
		})

		Expect(directory.ListActiveHosts()).Should(Equal([]HostRef{"host-a", "host-b"}))

		address, ok := directory.Address("host-b")
		Expect(ok).Should(BeTrue())
		Expect(address).Should(Equal("127.0.0.1:9091"))
	})

	It("Should reflect hosts added and removed at runtime", func() {
		directory := NewStaticHostDirectory(nil)
		directory.AddHost(HostConfig{ID: "host-a", Address: "a:1"})
		directory.AddHost(HostConfig{ID: "host-b", Address: "b:1"})
		directory.RemoveHost("host-a")

		Expect(directory.ListActiveHosts()).Should(Equal([]HostRef{"host-b"}))
	})
})
