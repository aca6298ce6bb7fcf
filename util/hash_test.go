package util_test

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

	. "github.com/PelionIoT/indexflow/util"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Slot", func() {
	It("should place a key in the same slot every time", func() {
		Expect(Slot([]byte("user/alice"), 16)).Should(Equal(Slot([]byte("user/alice"), 16)))
		Expect(KeyHash([]byte("user/alice"))).Should(Equal(KeyHash([]byte("user/alice"))))
	})

	It("should stay within the slot count", func() {
		for i := 0; i < 200; i++ {
			Expect(Slot([]byte(fmt.Sprintf("key-%d", i)), 7)).Should(BeNumerically("<", 7))
		}
	})

	It("should map every key to slot zero when there are no slots", func() {
		Expect(Slot([]byte("anything"), 0)).Should(Equal(uint64(0)))
	})
})
