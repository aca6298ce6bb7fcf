package error

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
)

type DBerror struct {
	Msg       string `json:"message"`
	ErrorCode int    `json:"code"`
}

func (dbError DBerror) Error() string {
	return dbError.Msg
}

func (dbError DBerror) Code() int {
	return dbError.ErrorCode
}

func (dbError DBerror) JSON() []byte {
	json, _ := json.Marshal(dbError)

	return json
}

const (
	eINDEX_UNAVAILABLE     = iota
	eUNIQUENESS_VIOLATION  = iota
	eNOT_FOUND             = iota
	eMULTIPLE_VALUES       = iota
	eDISPOSED              = iota
	eSTORAGE               = iota
	eNO_SUCH_INDEX         = iota
	eNO_SUCH_ACTOR         = iota
	eNO_SUCH_QUEUE         = iota
	eINVALID_UPDATE        = iota
	eQUEUE_NOT_INITIALIZED = iota
	eQUEUE_CLOSED          = iota
	eHOST_UNREACHABLE      = iota
	eCORRUPTED             = iota
	eINVALID_KEY           = iota
	eNO_SUCH_WORKFLOW      = iota
)

var (
	EIndexUnavailable     = DBerror{"The index is not available", eINDEX_UNAVAILABLE}
	EUniquenessViolation  = DBerror{"The update would violate the uniqueness constraint of the index", eUNIQUENESS_VIOLATION}
	ENotFound             = DBerror{"No entry exists for this key", eNOT_FOUND}
	EMultipleValues       = DBerror{"More than one value exists for this key", eMULTIPLE_VALUES}
	EDisposed             = DBerror{"The index has been disposed", eDISPOSED}
	EStorage              = DBerror{"The storage driver experienced an error", eSTORAGE}
	ENoSuchIndex          = DBerror{"The specified index does not exist", eNO_SUCH_INDEX}
	ENoSuchActor          = DBerror{"The specified actor does not exist", eNO_SUCH_ACTOR}
	ENoSuchQueue          = DBerror{"The specified workflow queue does not exist", eNO_SUCH_QUEUE}
	EInvalidUpdate        = DBerror{"The member update is malformed", eINVALID_UPDATE}
	EQueueNotInitialized  = DBerror{"The workflow queue has not finished recovery", eQUEUE_NOT_INITIALIZED}
	EQueueClosed          = DBerror{"The instance has been shut down", eQUEUE_CLOSED}
	EHostUnreachable      = DBerror{"The host could not be reached", eHOST_UNREACHABLE}
	ECorrupted            = DBerror{"The storage driver experienced an error", eCORRUPTED}
	EInvalidKey           = DBerror{"A key was misformatted", eINVALID_KEY}
	ENoSuchWorkflow       = DBerror{"The specified workflow record does not exist", eNO_SUCH_WORKFLOW}
)

var errorCodeMap = map[int]DBerror{
	eINDEX_UNAVAILABLE:     EIndexUnavailable,
	eUNIQUENESS_VIOLATION:  EUniquenessViolation,
	eNOT_FOUND:             ENotFound,
	eMULTIPLE_VALUES:       EMultipleValues,
	eDISPOSED:              EDisposed,
	eSTORAGE:               EStorage,
	eNO_SUCH_INDEX:         ENoSuchIndex,
	eNO_SUCH_ACTOR:         ENoSuchActor,
	eNO_SUCH_QUEUE:         ENoSuchQueue,
	eINVALID_UPDATE:        EInvalidUpdate,
	eQUEUE_NOT_INITIALIZED: EQueueNotInitialized,
	eQUEUE_CLOSED:          EQueueClosed,
	eHOST_UNREACHABLE:      EHostUnreachable,
	eCORRUPTED:             ECorrupted,
	eINVALID_KEY:           EInvalidKey,
	eNO_SUCH_WORKFLOW:      ENoSuchWorkflow,
}

// DBErrorFromJSON decodes an error that was encoded with JSON(). It returns
// false if the body is not an encoded DBerror.
func DBErrorFromJSON(encodedError []byte) (DBerror, bool) {
	var dbError DBerror

	if err := json.Unmarshal(encodedError, &dbError); err != nil {
		return DBerror{}, false
	}

	knownError, ok := errorCodeMap[dbError.ErrorCode]

	if !ok || knownError.Msg != dbError.Msg {
		return DBerror{}, false
	}

	return knownError, true
}

// IsTransient reports whether an operation that failed with err may succeed
// if it is retried later without any other change.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch err {
	case EUniquenessViolation, ENotFound, EMultipleValues, EInvalidUpdate, ENoSuchIndex, EDisposed:
		return false
	}

	return true
}
