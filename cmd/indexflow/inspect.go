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
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	. "github.com/PelionIoT/indexflow/client"
	. "github.com/PelionIoT/indexflow/data"
)

func init() {
	registerCommand("queues", listQueues, queuesUsage)
	registerCommand("indexes", listIndexes, indexesUsage)
	registerCommand("lookup", lookupKey, lookupUsage)
}

var queuesUsage string = `Usage: indexflow queues -host=[address]
`

var indexesUsage string = `Usage: indexflow indexes -host=[address]
`

var lookupUsage string = `Usage: indexflow lookup -host=[address] -index=[index name] -key=[key] [-unique]
`

func apiClient() *APIClient {
	return New(APIClientConfig{Servers: []string{*optHost}})
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Millisecond*time.Duration(*optTimeout))
}

func listQueues() error {
	ctx, cancel := requestContext()
	defer cancel()

	queues, err := apiClient().Queues(ctx)

	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Queue", "State", "Initialized", "Pending", "In Flight", "Failed"})

	for _, queue := range queues {
		table.Append([]string{
			queue.ID,
			queue.State,
			strconv.FormatBool(queue.Initialized),
			strconv.Itoa(queue.Pending),
			strconv.Itoa(queue.InFlight),
			strconv.Itoa(queue.Failed),
		})
	}

	table.Render()

	return nil
}

func listIndexes() error {
	ctx, cancel := requestContext()
	defer cancel()

	indexes, err := apiClient().Indexes(ctx)

	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Index", "Type", "Attribute", "Kind", "Flags", "Buckets", "Entries"})

	for _, info := range indexes {
		var flags []string
		var entries int

		if info.Unique {
			flags = append(flags, "unique")
		}

		if info.Eager {
			flags = append(flags, "eager")
		}

		for _, bucket := range info.Buckets {
			entries += bucket.Size
		}

		table.Append([]string{
			info.Name,
			info.TypeName,
			info.Attribute,
			info.Kind,
			strings.Join(flags, ","),
			strconv.Itoa(len(info.Buckets)),
			strconv.Itoa(entries),
		})
	}

	table.Render()

	return nil
}

func lookupKey() error {
	if len(*optIndex) == 0 {
		return errors.New("no index (-index) specified")
	}

	ctx, cancel := requestContext()
	defer cancel()

	var actors []ActorRef

	if *optUnique {
		actor, err := apiClient().LookupUnique(ctx, *optIndex, *optKey)

		if err != nil {
			return err
		}

		if actor != "" {
			actors = append(actors, actor)
		}
	} else {
		var err error

		actors, err = apiClient().Lookup(ctx, *optIndex, *optKey)

		if err != nil {
			return err
		}
	}

	if len(actors) == 0 {
		fmt.Fprintf(os.Stderr, "No actors under key %q of index %s\n", *optKey, *optIndex)

		return nil
	}

	for _, actor := range actors {
		fmt.Println(actor)
	}

	return nil
}
