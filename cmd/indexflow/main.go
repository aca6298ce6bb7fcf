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
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
)

type command struct {
	name    string
	execute func() error
	usage   string
}

var commands = map[string]command{}

var optConfigFile *string
var optHost *string
var optIndex *string
var optKey *string
var optUnique *bool
var optTimeout *uint

func registerCommand(name string, execute func() error, usage string) {
	commands[name] = command{name: name, execute: execute, usage: usage}
}

func init() {
	optConfigFile = flag.String("conf", "", "The config file for this server")
	optHost = flag.String("host", "localhost:8080", "The address of the server to inspect")
	optIndex = flag.String("index", "", "The name of an index")
	optKey = flag.String("key", "", "The key to look up in the index")
	optUnique = flag.Bool("unique", false, "Expect at most one actor under the key")
	optTimeout = flag.Uint("timeout", 5000, "Request timeout in milliseconds")
}

func printUsage() {
	var names []string

	for name, _ := range commands {
		names = append(names, name)
	}

	sort.Strings(names)

	fmt.Fprintf(os.Stderr, "Usage: indexflow <command> [options]\n\nCommands:\n    %s\n\n", strings.Join(names, "\n    "))
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, ok := commands[os.Args[1]]

	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	flag.CommandLine.Parse(os.Args[2:])

	if err := cmd.execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n\n%s", cmd.name, err, cmd.usage)
		os.Exit(1)
	}
}
