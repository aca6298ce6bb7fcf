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
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"time"

	. "github.com/PelionIoT/indexflow/error"
)

const DefaultClientTimeout = time.Second * 10

type ErrorStatusCode struct {
	StatusCode int
	Message    string
}

func (errorStatus *ErrorStatusCode) Error() string {
	return errorStatus.Message
}

// sendRequest returns the response body of a 200 response. Other responses
// are decoded into the DBerror they carry or else into an ErrorStatusCode.
func sendRequest(ctx context.Context, httpClient *http.Client, httpVerb string, endpointURL string, body []byte) ([]byte, error) {
	request, err := http.NewRequest(httpVerb, endpointURL, bytes.NewReader(body))

	if err != nil {
		return nil, err
	}

	request = request.WithContext(ctx)

	resp, err := httpClient.Do(request)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	responseBody, err := ioutil.ReadAll(resp.Body)

	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if dbError, ok := DBErrorFromJSON(responseBody); ok {
			return nil, dbError
		}

		return nil, &ErrorStatusCode{Message: string(responseBody), StatusCode: resp.StatusCode}
	}

	return responseBody, nil
}
