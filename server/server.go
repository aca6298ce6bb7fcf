package server

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
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	. "github.com/PelionIoT/indexflow/actor"
	. "github.com/PelionIoT/indexflow/client"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/error"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/logging"
	"github.com/PelionIoT/indexflow/routes"
	. "github.com/PelionIoT/indexflow/shared"
	. "github.com/PelionIoT/indexflow/storage"
	. "github.com/PelionIoT/indexflow/workflow"
)

// Server runs the index pipeline of one host: the buckets this host holds,
// the workflow queues and actors it owns and the routes that expose them.
type Server struct {
	config        YAMLServerConfig
	httpServer    *http.Server
	listener      net.Listener
	storageDriver StorageDriver
	registry      *Registry
	dispatcher    *Dispatcher
	pool          *QueuePool
	directory     *Directory
	coordinator   *RecoveryCoordinator
	sweeper       *RecoverySweeper
	facade        *IndexServerFacade
	router        *mux.Router
}

func NewServer(config YAMLServerConfig) (*Server, error) {
	storageDriver, err := NewStorageDriver(config.StorageEngine, config.DBFile)

	if err != nil {
		return nil, err
	}

	registry, err := config.Registry()

	if err != nil {
		return nil, err
	}

	server := &Server{
		config:        config,
		storageDriver: storageDriver,
		registry:      registry,
	}

	if err := server.storageDriver.Open(); err != nil {
		if err != ECorrupted {
			Log.Errorf("Error creating server: %v", err.Error())

			return nil, err
		}

		Log.Error("Database is corrupted. Attempting automatic recovery now...")

		if recoverError := server.storageDriver.Recover(); recoverError != nil {
			Log.Criticalf("Unable to recover corrupted database. Reason: %v", recoverError.Error())
			Log.Critical("Index server will now exit")

			return nil, EStorage
		}

		Log.Info("Database recovery successful!")
	}

	hosts := config.HostDirectory()

	server.dispatcher = NewDispatcher(DispatcherConfig{
		Registry:      registry,
		LocalHost:     HostRef(config.Host),
		Hosts:         hosts,
		HostClient:    NewHostClient(HostClientConfig{Hosts: hosts, Timeout: config.HostTimeoutDuration()}),
		Locator:       server,
		StorageDriver: storageDriver,
		Timeout:       config.HostTimeoutDuration(),
	})

	handler := &Handler{
		Applier:    server.dispatcher,
		RetryDelay: config.RetryDelayDuration(),
		Timeout:    config.HostTimeoutDuration(),
	}

	server.pool = NewQueuePool(&StorageQueueFactory{
		StorageDriver: storageDriver,
		BatchSize:     config.BatchSize,
		Handler:       handler,
	}, config.Partitions, nil)

	server.directory = NewDirectory(DirectoryConfig{
		StorageDriver: storageDriver,
		Registry:      registry,
		Applier:       server.dispatcher,
		Queues:        server.pool,
		LocalHost:     HostRef(config.Host),
	})

	handler.Actors = server.directory

	server.coordinator = &RecoveryCoordinator{
		Actors: server.directory,
		Lister: server.directory,
		Pool:   server.pool,
	}

	server.sweeper = NewRecoverySweeper(server.coordinator, registry.TypeNames(), config.SweepIntervalDuration())
	server.facade = &IndexServerFacade{
		Directory:   server.directory,
		Pool:        server.pool,
		Coordinator: server.coordinator,
	}

	server.router = mux.NewRouter()

	(&routes.ActorsEndpoint{Actors: server.facade}).Attach(server.router)
	(&routes.IndexesEndpoint{Indexes: server.dispatcher}).Attach(server.router)
	(&routes.HostBucketsEndpoint{Buckets: server.dispatcher}).Attach(server.router)
	(&routes.QueuesEndpoint{Queues: server.facade}).Attach(server.router)

	server.router.Handle("/metrics", promhttp.Handler())

	return server, nil
}

// HostOf locates the actors active at this host for per-host indexes
func (server *Server) HostOf(actor ActorRef) (HostRef, bool) {
	if server.directory == nil {
		return "", false
	}

	return server.directory.HostOf(actor)
}

func (server *Server) Port() int {
	return server.config.Port
}

func (server *Server) Router() *mux.Router {
	return server.router
}

// Recover brings every workflow queue of every indexed actor type back in
// line with its stored records and its actors. Queues that fail to recover
// are retried by the recovery sweeper.
func (server *Server) Recover(ctx context.Context) error {
	if err := server.coordinator.RecoverAll(ctx, server.registry.TypeNames()); err != nil {
		Log.Errorf("Unable to recover every workflow queue: %v", err)

		return err
	}

	return nil
}

func (server *Server) Start() error {
	server.Recover(context.Background())
	server.sweeper.Start()

	server.httpServer = &http.Server{
		Handler:      server.router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	listener, err := net.Listen("tcp", "0.0.0.0:"+strconv.Itoa(server.Port()))

	if err != nil {
		Log.Errorf("Error listening on port: %d", server.Port())

		server.Stop()

		return err
	}

	server.listener = listener

	Log.Infof("Host %s listening on port %d", server.config.Host, server.Port())

	err = server.httpServer.Serve(server.listener)

	Log.Errorf("Host %s server shutting down. Reason: %v", server.config.Host, err)

	return err
}

func (server *Server) Stop() error {
	if server.listener != nil {
		server.listener.Close()
	}

	server.sweeper.Stop()
	server.directory.Close()
	server.pool.Close()
	server.dispatcher.Close()
	server.storageDriver.Close()

	return nil
}
