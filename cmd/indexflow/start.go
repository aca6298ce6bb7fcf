package main

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
	"errors"
	"os"
	"os/signal"
	"syscall"

	. "github.com/PelionIoT/indexflow/logging"
	. "github.com/PelionIoT/indexflow/server"
	. "github.com/PelionIoT/indexflow/shared"
)

func init() {
	registerCommand("start", startServer, startUsage)
}

var startUsage string = `Usage: indexflow start -conf=[config file]
`

func startServer() error {
	if len(*optConfigFile) == 0 {
		return errors.New("no config file (-conf) specified")
	}

	var serverConfig YAMLServerConfig

	if err := serverConfig.LoadFromFile(*optConfigFile); err != nil {
		return err
	}

	server, err := NewServer(serverConfig)

	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	stopped := make(chan struct{})
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals

		Log.Infof("Received %v. Shutting down", sig)

		close(stopped)
		server.Stop()
	}()

	err = server.Start()

	select {
	case <-stopped:
		return nil
	default:
		return err
	}
}
