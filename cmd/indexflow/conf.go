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
	"fmt"
)

func init() {
	registerCommand("conf", generateConfig, confUsage)
}

var confUsage string = `Usage: indexflow conf
`

var templateConfig string = `# The db field specifies the directory where the database files reside on
# disk. A relative path is resolved against the directory of this file.
# **REQUIRED**
db: /tmp/indexflow

# The storage engine backing the hash buckets and the workflow queues.
# Either leveldb or boltdb. Defaults to leveldb
storageEngine: leveldb

# The port on which this host serves its HTTP API
# **REQUIRED**
port: 8080

# The id of this host. It must appear in the hosts list when one is given
# **REQUIRED**
host: host-1

# The hosts on which actors are activated. The first id in sorted order is
# the home host of every single and chained index bucket. Leave this list
# out to run a single host
hosts:
    - id: host-1
      address: localhost:8080
#    - id: host-2
#      address: 10.0.0.2:8080

# The number of workflow queues kept for each actor type
partitions: 16

# The maximum number of workflow records applied in one batch
batchSize: 100

# The delay in milliseconds before a queue retries records that failed to
# apply because an index or host was unavailable
retryDelay: 1000

# The timeout in milliseconds of a bucket call made to another host
hostTimeout: 5000

# The interval in milliseconds at which queues that failed to recover are
# retried
sweepInterval: 30000

# The log level may be one of critical, error, warning, notice, info, debug
logLevel: info

# The indexes maintained over actor attributes. kind is one of single,
# chained or perhost. A unique index refuses a second actor under the same
# key. An eager index is updated before the attribute change commits
indexes:
    - type: user
      name: emails
      attribute: email
      kind: chained
      unique: true
      eager: true
      buckets: 4
      maxBucketEntries: 1000
    - type: user
      name: countries
      attribute: country
      kind: single
`

func generateConfig() error {
	fmt.Print(templateConfig)

	return nil
}
