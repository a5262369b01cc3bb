// Cluster mailbox allocation map
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package allocmap loads the cluster-wide table of mailbox allocations:
// which instance and interrupt routing each software component owns, the
// paired cells of the kernel transport link and the endpoints exposed to
// user processes. Per-client configurations are derived from it.
package allocmap

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openchiplet/icmsg/mbox"
	"github.com/openchiplet/icmsg/mboxchar"
	"github.com/openchiplet/icmsg/mboxlink"
)

// Link cell directions
const (
	DirOutgoing = 0
	DirIncoming = 1
)

// Cell is a single mailbox allocation: the (instance, owner, src, dst)
// tuple of a client, plus its direction where the consumer needs one.
type Cell struct {
	Instance  int    `yaml:"instance"`
	Owner     uint8  `yaml:"owner"`
	Src       uint8  `yaml:"src"`
	Dst       uint8  `yaml:"dst"`
	Direction int    `yaml:"direction"`
	Claim     bool   `yaml:"claim"`
	Name      string `yaml:"name"`
}

// Config derives the mailbox instance configuration of a cell.
func (c Cell) Config() mbox.Config {
	return mbox.Config{
		Owner: c.Owner,
		Src:   c.Src,
		Dst:   c.Dst,
		Claim: c.Claim,
	}
}

// Bank describes one mailbox controller bank.
type Bank struct {
	Name string `yaml:"name"`
	// UIO device exposing the bank MMIO window and interrupts
	UIO string `yaml:"uio"`
	// Interrupt output carrying delivery events
	IRQRecvIndex int `yaml:"interrupt-idx-rcv"`
	// Interrupt output carrying acknowledge events
	IRQAckIndex int `yaml:"interrupt-idx-ack"`
}

// Link describes the kernel transport's paired cells, ordered
// {outgoing, incoming}.
type Link struct {
	Bank  string `yaml:"bank"`
	Cells []Cell `yaml:"cells"`
}

// Config derives the link configuration from the two cells.
func (l Link) Config() mboxlink.Config {
	return mboxlink.Config{
		Out:    l.Cells[0].Instance,
		OutCfg: l.Cells[0].Config(),
		In:     l.Cells[1].Instance,
		InCfg:  l.Cells[1].Config(),
	}
}

// Device describes a user-facing endpoint allocation.
type Device struct {
	Bank string `yaml:"bank"`
	Cell `yaml:",inline"`
}

// Config derives the endpoint configuration of a device allocation.
func (d Device) Config() mboxchar.Config {
	dir := mboxchar.Outgoing

	if d.Direction == DirIncoming {
		dir = mboxchar.Incoming
	}

	return mboxchar.Config{
		Name:     d.Name,
		Instance: d.Instance,
		Mailbox:  d.Cell.Config(),
		Dir:      dir,
	}
}

// Shmem describes one shared-memory transport instance.
type Shmem struct {
	// backing file of the two regions, out first
	Path string `yaml:"path"`
	// receive poll interval
	PollIntervalMS int `yaml:"poll-interval-ms"`
}

// Map is the cluster-wide allocation table.
type Map struct {
	Banks   []Bank   `yaml:"banks"`
	Links   []Link   `yaml:"links"`
	Devices []Device `yaml:"devices"`
	Shmem   []Shmem  `yaml:"shmem"`

	// send retry knobs
	Retries      *int `yaml:"retries"`
	RetryDelayUS *int `yaml:"retry-delay-us"`
}

// Load parses and validates an allocation map.
func Load(r io.Reader) (*Map, error) {
	m := &Map{}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("parsing allocation map: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// LoadFile loads an allocation map from the first existing path of the
// paths argument.
func LoadFile(paths ...string) (*Map, error) {
	for _, path := range paths {
		f, err := os.Open(path)

		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		defer f.Close()

		return Load(f)
	}

	return nil, fmt.Errorf("no allocation map found in %v", paths)
}

// FindBank returns the bank definition registered under the name
// argument.
func (m *Map) FindBank(name string) (Bank, error) {
	for _, b := range m.Banks {
		if b.Name == name {
			return b, nil
		}
	}

	return Bank{}, fmt.Errorf("unknown bank %q", name)
}

func (m *Map) validate() error {
	banks := make(map[string]Bank)

	for _, b := range m.Banks {
		if b.Name == "" {
			return fmt.Errorf("bank with no name")
		}

		if _, ok := banks[b.Name]; ok {
			return fmt.Errorf("duplicate bank %q", b.Name)
		}

		if b.IRQRecvIndex == b.IRQAckIndex || b.IRQRecvIndex > 1 || b.IRQAckIndex > 1 {
			return fmt.Errorf("bank %q: invalid interrupt routing", b.Name)
		}

		banks[b.Name] = b
	}

	claimed := make(map[string]string)

	claim := func(bank string, instance int, who string) error {
		if instance < 0 || instance >= mbox.Instances {
			return fmt.Errorf("%s: invalid instance %d", who, instance)
		}

		key := fmt.Sprintf("%s/%d", bank, instance)

		if prev, ok := claimed[key]; ok {
			return fmt.Errorf("%s: instance %d already allocated to %s", who, instance, prev)
		}

		claimed[key] = who

		return nil
	}

	for i, l := range m.Links {
		who := fmt.Sprintf("link %d", i)

		if _, ok := banks[l.Bank]; !ok {
			return fmt.Errorf("%s: unknown bank %q", who, l.Bank)
		}

		if len(l.Cells) != 2 {
			return fmt.Errorf("%s: needs exactly two cells", who)
		}

		if l.Cells[0].Direction != DirOutgoing || l.Cells[1].Direction != DirIncoming {
			return fmt.Errorf("%s: cells must be ordered {outgoing, incoming}", who)
		}

		for _, c := range l.Cells {
			if err := claim(l.Bank, c.Instance, who); err != nil {
				return err
			}
		}
	}

	for i, d := range m.Devices {
		who := fmt.Sprintf("device %d", i)

		if _, ok := banks[d.Bank]; !ok {
			return fmt.Errorf("%s: unknown bank %q", who, d.Bank)
		}

		if err := claim(d.Bank, d.Instance, who); err != nil {
			return err
		}
	}

	return nil
}
