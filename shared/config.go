package shared

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
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	. "github.com/PelionIoT/indexflow/cluster"
	. "github.com/PelionIoT/indexflow/data"
	. "github.com/PelionIoT/indexflow/index"
	. "github.com/PelionIoT/indexflow/logging"
)

const (
	DefaultBatchSize       = 100
	DefaultRetryDelayMS    = 1000
	DefaultHostTimeoutMS   = 5000
	DefaultSweepIntervalMS = 30000
)

type YAMLServerConfig struct {
	DBFile        string      `yaml:"db"`
	StorageEngine string      `yaml:"storageEngine"`
	Port          int         `yaml:"port"`
	Host          string      `yaml:"host"`
	Hosts         []YAMLHost  `yaml:"hosts"`
	Partitions    uint64      `yaml:"partitions"`
	BatchSize     int         `yaml:"batchSize"`
	RetryDelay    uint64      `yaml:"retryDelay"`
	HostTimeout   uint64      `yaml:"hostTimeout"`
	SweepInterval uint64      `yaml:"sweepInterval"`
	LogLevel      string      `yaml:"logLevel"`
	Indexes       []YAMLIndex `yaml:"indexes"`
}

type YAMLHost struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type YAMLIndex struct {
	Type             string `yaml:"type"`
	Name             string `yaml:"name"`
	Attribute        string `yaml:"attribute"`
	Kind             string `yaml:"kind"`
	Unique           bool   `yaml:"unique"`
	Eager            bool   `yaml:"eager"`
	Buckets          int    `yaml:"buckets"`
	MaxBucketEntries int    `yaml:"maxBucketEntries"`
}

func (ysc *YAMLServerConfig) LoadFromFile(file string) error {
	rawConfig, err := ioutil.ReadFile(file)

	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(rawConfig, ysc); err != nil {
		return err
	}

	if err := ysc.Validate(); err != nil {
		return err
	}

	ysc.DBFile = resolveFilePath(file, ysc.DBFile)

	SetLoggingLevel(ysc.LogLevel)

	return nil
}

// Validate checks every field and fills in the defaults of the optional ones
func (ysc *YAMLServerConfig) Validate() error {
	if len(ysc.DBFile) == 0 {
		return errors.New("db must name the directory in which the server keeps its data")
	}

	switch ysc.StorageEngine {
	case "":
		ysc.StorageEngine = "leveldb"
	case "leveldb", "boltdb":
	default:
		return fmt.Errorf("%s is not a valid storage engine. Use leveldb or boltdb", ysc.StorageEngine)
	}

	if !isValidPort(ysc.Port) {
		return fmt.Errorf("%d is an invalid port for the index server", ysc.Port)
	}

	if len(ysc.Host) == 0 {
		return errors.New("host must name this host")
	}

	hostIDs := make(map[string]bool)

	for _, host := range ysc.Hosts {
		if len(host.ID) == 0 {
			return errors.New("Host ID is empty")
		}

		if len(host.Address) == 0 {
			return fmt.Errorf("The address is empty for host %s", host.ID)
		}

		if hostIDs[host.ID] {
			return fmt.Errorf("Host %s is listed more than once", host.ID)
		}

		hostIDs[host.ID] = true
	}

	if len(ysc.Hosts) > 0 && !hostIDs[ysc.Host] {
		return fmt.Errorf("This host (%s) is not in the hosts list", ysc.Host)
	}

	if ysc.Partitions == 0 {
		ysc.Partitions = DefaultPartitionCount
	}

	if ysc.Partitions < MinPartitionCount || ysc.Partitions > MaxPartitionCount {
		return fmt.Errorf("partitions must be between %d and %d inclusive", MinPartitionCount, MaxPartitionCount)
	}

	if ysc.BatchSize < 0 {
		return errors.New("batchSize must not be negative")
	}

	if ysc.BatchSize == 0 {
		ysc.BatchSize = DefaultBatchSize
	}

	if ysc.RetryDelay == 0 {
		ysc.RetryDelay = DefaultRetryDelayMS
	}

	if ysc.HostTimeout == 0 {
		ysc.HostTimeout = DefaultHostTimeoutMS
	}

	if ysc.SweepInterval == 0 {
		ysc.SweepInterval = DefaultSweepIntervalMS
	}

	if len(ysc.LogLevel) == 0 {
		ysc.LogLevel = "info"
	}

	if !LogLevelIsValid(ysc.LogLevel) {
		return fmt.Errorf("%s is not a valid log level", ysc.LogLevel)
	}

	if _, err := ysc.Registry(); err != nil {
		return err
	}

	return nil
}

// Registry builds the index registry that the indexes section describes
func (ysc *YAMLServerConfig) Registry() (*Registry, error) {
	registry := NewRegistry()

	for _, yamlIndex := range ysc.Indexes {
		kind, err := ParseIndexKind(yamlIndex.Kind)

		if err != nil {
			return nil, fmt.Errorf("Index %s: %v", yamlIndex.Name, err)
		}

		descriptor := IndexDescriptor{
			TypeName:         yamlIndex.Type,
			Name:             yamlIndex.Name,
			Attribute:        yamlIndex.Attribute,
			Kind:             kind,
			Unique:           yamlIndex.Unique,
			Eager:            yamlIndex.Eager,
			Buckets:          yamlIndex.Buckets,
			MaxBucketEntries: yamlIndex.MaxBucketEntries,
		}

		if err := registry.Register(descriptor); err != nil {
			return nil, fmt.Errorf("Index %s: %v", yamlIndex.Name, err)
		}
	}

	return registry, nil
}

// HostDirectory returns the static membership list. A config without hosts
// describes a single host cluster.
func (ysc *YAMLServerConfig) HostDirectory() *StaticHostDirectory {
	if len(ysc.Hosts) == 0 {
		return NewStaticHostDirectory([]HostConfig{{ID: HostRef(ysc.Host), Address: fmt.Sprintf("localhost:%d", ysc.Port)}})
	}

	hosts := make([]HostConfig, 0, len(ysc.Hosts))

	for _, host := range ysc.Hosts {
		hosts = append(hosts, HostConfig{ID: HostRef(host.ID), Address: host.Address})
	}

	return NewStaticHostDirectory(hosts)
}

func (ysc *YAMLServerConfig) RetryDelayDuration() time.Duration {
	return time.Millisecond * time.Duration(ysc.RetryDelay)
}

func (ysc *YAMLServerConfig) HostTimeoutDuration() time.Duration {
	return time.Millisecond * time.Duration(ysc.HostTimeout)
}

func (ysc *YAMLServerConfig) SweepIntervalDuration() time.Duration {
	return time.Millisecond * time.Duration(ysc.SweepInterval)
}

func isValidPort(p int) bool {
	return p >= 0 && p < (1<<16)
}

func resolveFilePath(configFileLocation, file string) string {
	if filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(filepath.Dir(configFileLocation), file)
}
