package workflow

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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusRecordsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexflow",
			Subsystem: "workflow",
			Name:      "records_applied",
			Help:      "Counts workflow records applied to every index they name",
		},
		[]string{
			"queue",
		},
	)

	prometheusRecordsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexflow",
			Subsystem: "workflow",
			Name:      "records_retried",
			Help:      "Counts workflow records left in the queue after a transient failure",
		},
		[]string{
			"queue",
		},
	)

	prometheusRecordsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexflow",
			Subsystem: "workflow",
			Name:      "records_failed",
			Help:      "Counts workflow records that failed permanently",
		},
		[]string{
			"queue",
		},
	)

	prometheusRecordsStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexflow",
			Subsystem: "workflow",
			Name:      "records_stale",
			Help:      "Counts workflow records discarded because their actor no longer claims them",
		},
		[]string{
			"queue",
		},
	)

	prometheusQueuePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexflow",
			Subsystem: "workflow",
			Name:      "pending_records",
			Help:      "Number of records waiting in or handed out by a workflow queue",
		},
		[]string{
			"queue",
		},
	)
)

func init() {
	prometheus.MustRegister(prometheusRecordsApplied, prometheusRecordsRetried, prometheusRecordsFailed, prometheusRecordsStale, prometheusQueuePending)
}

func prometheusRecordBatchResult(queueID string, result BatchResult) {
	prometheusRecordsApplied.WithLabelValues(queueID).Add(float64(result.Applied))
	prometheusRecordsRetried.WithLabelValues(queueID).Add(float64(result.Retried))
	prometheusRecordsFailed.WithLabelValues(queueID).Add(float64(result.Failed))
	prometheusRecordsStale.WithLabelValues(queueID).Add(float64(result.Stale))
}
