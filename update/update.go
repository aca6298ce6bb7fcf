package update

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
	"fmt"
)

type OperationKind int

const (
	OperationNone   OperationKind = iota
	OperationInsert OperationKind = iota
	OperationUpdate OperationKind = iota
	OperationDelete OperationKind = iota
)

func (kind OperationKind) String() string {
	switch kind {
	case OperationNone:
		return "none"
	case OperationInsert:
		return "insert"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	}

	return fmt.Sprintf("OperationKind(%d)", int(kind))
}

func (kind OperationKind) valid() bool {
	return kind >= OperationNone && kind <= OperationDelete
}

type UpdateMode int

const (
	NonTentative  UpdateMode = iota
	Tentative     UpdateMode = iota
	Transactional UpdateMode = iota
)

func (mode UpdateMode) String() string {
	switch mode {
	case NonTentative:
		return "non-tentative"
	case Tentative:
		return "tentative"
	case Transactional:
		return "transactional"
	}

	return fmt.Sprintf("UpdateMode(%d)", int(mode))
}

// Value returns a present image holding v
func Value(v string) *string {
	return &v
}

// MemberUpdate is the change of one indexed attribute of one actor. It is a
// value: every transformation returns a new MemberUpdate.
type MemberUpdate struct {
	beforeImage   *string
	afterImage    *string
	operationKind OperationKind
	updateMode    UpdateMode
}

// Compute classifies the change from before to after. A nil image means the
// attribute is absent.
func Compute(before, after *string) MemberUpdate {
	return NewMemberUpdate(before, after, NonTentative)
}

func NewMemberUpdate(before, after *string, mode UpdateMode) MemberUpdate {
	memberUpdate := MemberUpdate{
		beforeImage: copyImage(before),
		afterImage:  copyImage(after),
		updateMode:  mode,
	}

	switch {
	case before == nil && after == nil:
		memberUpdate.operationKind = OperationNone
	case before == nil:
		memberUpdate.operationKind = OperationInsert
	case after == nil:
		memberUpdate.operationKind = OperationDelete
	case *before == *after:
		memberUpdate.operationKind = OperationNone
	default:
		memberUpdate.operationKind = OperationUpdate
	}

	return memberUpdate
}

// Reverse returns the update that undoes u. Reverse(Reverse(u)) == u.
func Reverse(u MemberUpdate) MemberUpdate {
	reversed := MemberUpdate{
		beforeImage:   u.afterImage,
		afterImage:    u.beforeImage,
		operationKind: u.operationKind,
		updateMode:    u.updateMode,
	}

	switch u.operationKind {
	case OperationInsert:
		reversed.operationKind = OperationDelete
	case OperationDelete:
		reversed.operationKind = OperationInsert
	}

	return reversed
}

func OverrideMode(u MemberUpdate, mode UpdateMode) MemberUpdate {
	u.updateMode = mode

	return u
}

// OverrideKind replaces the operation kind and keeps only the images the new
// kind reads: the after image for an insert, the before image for a delete,
// both for an update and neither for none.
func OverrideKind(u MemberUpdate, kind OperationKind) MemberUpdate {
	if !kind.valid() {
		panic(fmt.Sprintf("update: invalid operation kind %d", int(kind)))
	}

	overridden := MemberUpdate{
		operationKind: kind,
		updateMode:    u.updateMode,
	}

	switch kind {
	case OperationInsert:
		overridden.afterImage = u.afterImage
	case OperationDelete:
		overridden.beforeImage = u.beforeImage
	case OperationUpdate:
		overridden.beforeImage = u.beforeImage
		overridden.afterImage = u.afterImage
	}

	return overridden
}

func (u MemberUpdate) BeforeImage() *string {
	return copyImage(u.beforeImage)
}

func (u MemberUpdate) AfterImage() *string {
	return copyImage(u.afterImage)
}

func (u MemberUpdate) OperationKind() OperationKind {
	return u.operationKind
}

func (u MemberUpdate) UpdateMode() UpdateMode {
	return u.updateMode
}

func (u MemberUpdate) IsTentative() bool {
	return u.updateMode == Tentative
}

// Validate checks that the images required by the operation kind are present
func (u MemberUpdate) Validate() bool {
	switch u.operationKind {
	case OperationNone:
		return true
	case OperationInsert:
		return u.afterImage != nil
	case OperationDelete:
		return u.beforeImage != nil
	case OperationUpdate:
		return u.beforeImage != nil && u.afterImage != nil
	}

	return false
}

func (u MemberUpdate) Equal(other MemberUpdate) bool {
	return u.operationKind == other.operationKind &&
		u.updateMode == other.updateMode &&
		imagesEqual(u.beforeImage, other.beforeImage) &&
		imagesEqual(u.afterImage, other.afterImage)
}

func (u MemberUpdate) String() string {
	return fmt.Sprintf("%s(%s -> %s, %s)", u.operationKind, imageString(u.beforeImage), imageString(u.afterImage), u.updateMode)
}

type transportMemberUpdate struct {
	Before *string       `json:"before,omitempty"`
	After  *string       `json:"after,omitempty"`
	Kind   OperationKind `json:"kind"`
	Mode   UpdateMode    `json:"mode"`
}

func (u MemberUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(transportMemberUpdate{
		Before: u.beforeImage,
		After:  u.afterImage,
		Kind:   u.operationKind,
		Mode:   u.updateMode,
	})
}

func (u *MemberUpdate) UnmarshalJSON(encoded []byte) error {
	var transportUpdate transportMemberUpdate

	if err := json.Unmarshal(encoded, &transportUpdate); err != nil {
		return err
	}

	if !transportUpdate.Kind.valid() {
		return fmt.Errorf("%d is not a valid operation kind", int(transportUpdate.Kind))
	}

	u.beforeImage = transportUpdate.Before
	u.afterImage = transportUpdate.After
	u.operationKind = transportUpdate.Kind
	u.updateMode = transportUpdate.Mode

	return nil
}

func copyImage(image *string) *string {
	if image == nil {
		return nil
	}

	v := *image

	return &v
}

func imagesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func imageString(image *string) string {
	if image == nil {
		return "<absent>"
	}

	return fmt.Sprintf("%q", *image)
}
