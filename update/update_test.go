package update_test

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
	"encoding/json"

	. "github.com/PelionIoT/indexflow/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemberUpdate", func() {
	images := []*string{nil, Value(""), Value("x"), Value("y")}

	Describe("#Compute", func() {
		It("Should classify every pair of images by the equality rule", func() {
			for _, before := range images {
				for _, after := range images {
					u := Compute(before, after)

					switch {
					case before == nil && after == nil:
						Expect(u.OperationKind()).Should(Equal(OperationNone))
					case before == nil:
						Expect(u.OperationKind()).Should(Equal(OperationInsert))
					case after == nil:
						Expect(u.OperationKind()).Should(Equal(OperationDelete))
					case *before == *after:
						Expect(u.OperationKind()).Should(Equal(OperationNone))
					default:
						Expect(u.OperationKind()).Should(Equal(OperationUpdate))
					}

					Expect(u.UpdateMode()).Should(Equal(NonTentative))
					Expect(u.Validate()).Should(BeTrue())
				}
			}
		})

		It("Should not be affected by later changes to the strings passed to it", func() {
			v := "x"
			u := Compute(nil, &v)
			v = "y"

			Expect(*u.AfterImage()).Should(Equal("x"))
		})
	})

	Describe("#Reverse", func() {
		It("Should swap the images and map insert to delete", func() {
			u := Reverse(Compute(nil, Value("x")))

			Expect(u.OperationKind()).Should(Equal(OperationDelete))
			Expect(*u.BeforeImage()).Should(Equal("x"))
			Expect(u.AfterImage()).Should(BeNil())
		})

		It("Should map delete to insert", func() {
			u := Reverse(Compute(Value("x"), nil))

			Expect(u.OperationKind()).Should(Equal(OperationInsert))
			Expect(*u.AfterImage()).Should(Equal("x"))
		})

		It("Should leave update and none kinds unchanged", func() {
			u := Reverse(Compute(Value("x"), Value("y")))

			Expect(u.OperationKind()).Should(Equal(OperationUpdate))
			Expect(*u.BeforeImage()).Should(Equal("y"))
			Expect(*u.AfterImage()).Should(Equal("x"))
			Expect(Reverse(Compute(nil, nil)).OperationKind()).Should(Equal(OperationNone))
		})

		It("Should be an involution", func() {
			for _, before := range images {
				for _, after := range images {
					for _, mode := range []UpdateMode{NonTentative, Tentative, Transactional} {
						u := NewMemberUpdate(before, after, mode)

						Expect(Reverse(Reverse(u)).Equal(u)).Should(BeTrue())
					}
				}
			}
		})
	})

	Describe("#OverrideMode", func() {
		It("Should keep the kind and images and replace the mode", func() {
			u := Compute(Value("x"), Value("y"))
			t := OverrideMode(u, Tentative)

			Expect(t.IsTentative()).Should(BeTrue())
			Expect(t.OperationKind()).Should(Equal(OperationUpdate))
			Expect(OverrideMode(t, NonTentative).Equal(u)).Should(BeTrue())
		})
	})

	Describe("#OverrideKind", func() {
		It("Should keep only the images the new kind requires", func() {
			u := Compute(Value("x"), Value("y"))

			insert := OverrideKind(u, OperationInsert)
			Expect(insert.BeforeImage()).Should(BeNil())
			Expect(*insert.AfterImage()).Should(Equal("y"))

			del := OverrideKind(u, OperationDelete)
			Expect(*del.BeforeImage()).Should(Equal("x"))
			Expect(del.AfterImage()).Should(BeNil())

			none := OverrideKind(u, OperationNone)
			Expect(none.BeforeImage()).Should(BeNil())
			Expect(none.AfterImage()).Should(BeNil())
		})

		It("Should panic when given an invalid kind", func() {
			Expect(func() { OverrideKind(Compute(nil, nil), OperationKind(42)) }).Should(Panic())
		})
	})

	Describe("JSON encoding", func() {
		It("Should preserve the images, kind and mode", func() {
			u := NewMemberUpdate(Value("x"), nil, Tentative)
			encoded, err := json.Marshal(u)

			Expect(err).Should(BeNil())

			var decoded MemberUpdate

			Expect(json.Unmarshal(encoded, &decoded)).Should(Succeed())
			Expect(decoded.Equal(u)).Should(BeTrue())
		})
	})
})
