package routes

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
	"io"
	"net/http"

	. "github.com/PelionIoT/indexflow/error"
)

func statusCodeOf(err error) int {
	switch err {
	case ENoSuchIndex, ENoSuchActor, ENoSuchQueue, ENoSuchWorkflow, ENotFound:
		return http.StatusNotFound
	case EUniquenessViolation, EMultipleValues, EDisposed:
		return http.StatusConflict
	case EInvalidUpdate, EInvalidKey:
		return http.StatusBadRequest
	case EIndexUnavailable, EQueueNotInitialized, EQueueClosed, EHostUnreachable:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// writeError encodes err as a DBerror so that a client can decode the
// sentinel. Other errors are reported as a storage error.
func writeError(w http.ResponseWriter, err error) {
	dbError, ok := err.(DBerror)

	if !ok {
		dbError = EStorage
	}

	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(statusCodeOf(err))
	io.WriteString(w, string(dbError.JSON())+"\n")
}

func writeBadRequest(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, "\n")
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	encoded, _ := json.Marshal(body)

	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, string(encoded)+"\n")
}
