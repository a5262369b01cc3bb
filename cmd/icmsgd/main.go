// icmsgd daemon
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux

// icmsgd runs the inter-cluster messaging stack of an application
// cluster: it maps the mailbox banks and shared-memory windows named by
// the cluster allocation map, wires the transports to the notification
// bus and the system message dispatcher, exposes the configured
// character-style endpoints and reports lifecycle and fault events to the
// management cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/openchiplet/icmsg/allocmap"
	"github.com/openchiplet/icmsg/mbox"
	"github.com/openchiplet/icmsg/mboxchar"
	"github.com/openchiplet/icmsg/mboxlink"
	"github.com/openchiplet/icmsg/notify"
	"github.com/openchiplet/icmsg/pretimeout"
	"github.com/openchiplet/icmsg/shmem"
	"github.com/openchiplet/icmsg/sysmsg"
	"github.com/openchiplet/icmsg/uio"
)

func main() {
	var (
		configPaths []string
		adminAddr   string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "icmsgd",
		Short: "inter-cluster messaging daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)

			if err != nil {
				return err
			}

			log.SetLevel(level)

			return run(configPaths, adminAddr)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSliceVar(&configPaths, "config",
		[]string{"allocmap.yaml", "/etc/icmsg/allocmap.yaml"},
		"allocation map search paths")
	cmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", ":9990",
		"admin server address")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level {panic, fatal, error, warn, info, debug, trace}")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// exportStats publishes the bank interrupt service counters.
func exportStats(bank *mbox.Bank) {
	for name, load := range map[string]func() float64{
		"rx":       func() float64 { return float64(bank.Stats.RX.Load()) },
		"acks":     func() float64 { return float64(bank.Stats.Acks.Load()) },
		"nacks":    func() float64 { return float64(bank.Stats.Nacks.Load()) },
		"spurious": func() float64 { return float64(bank.Stats.Spurious.Load()) },
	} {
		prometheus.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        fmt.Sprintf("icmsg_mbox_%s_total", name),
			Help:        fmt.Sprintf("Mailbox bank %s service events.", name),
			ConstLabels: prometheus.Labels{"bank": bank.Name},
		}, load))
	}
}

func run(configPaths []string, adminAddr string) error {
	m, err := allocmap.LoadFile(configPaths...)

	if err != nil {
		return err
	}

	logger := log.StandardLogger()

	bus := notify.NewBus(logger, prometheus.DefaultRegisterer)
	msgr := sysmsg.NewMessenger(bus)

	if m.Retries != nil {
		msgr.Retries = *m.Retries
	}

	if m.RetryDelayUS != nil {
		msgr.RetryDelay = time.Duration(*m.RetryDelayUS) * time.Microsecond
	}

	dispatcher := sysmsg.NewDispatcher(msgr, logger)
	bus.Handle(dispatcher.Process)

	registry := mboxchar.NewRegistry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	banks := make(map[string]*mbox.Bank)

	for _, b := range m.Banks {
		dev, err := uio.Open(b.UIO)

		if err != nil {
			return err
		}

		defer dev.Close()

		mem, err := dev.Map(mbox.BlockSize)

		if err != nil {
			return err
		}

		bank := &mbox.Bank{
			Name:    b.Name,
			Mem:     mem,
			IRQRecv: b.IRQRecvIndex,
			IRQAck:  b.IRQAckIndex,
		}
		bank.Init()

		banks[b.Name] = bank
		exportStats(bank)

		// the UIO device folds the two bank outputs into one
		// interrupt, both service routines run on each event and the
		// per-instance routing sorts the causes out
		go func(bank *mbox.Bank, dev *uio.Device) {
			if err := dev.Serve(ctx, func() {
				bank.ServiceRecv()
				bank.ServiceAck()
			}); err != nil {
				logger.WithError(err).WithField("bank", bank.Name).
					Error("interrupt service failed")
			}
		}(bank, dev)

		logger.WithField("bank", b.Name).Info("mailbox bank mapped")
	}

	for _, l := range m.Links {
		link, err := mboxlink.Open(banks[l.Bank], bus, l.Config(), logger)

		if err != nil {
			return err
		}

		defer link.Close()
	}

	for _, d := range m.Devices {
		if _, err := registry.Add(banks[d.Bank], d.Config()); err != nil {
			return err
		}
	}

	for _, s := range m.Shmem {
		mem, err := uio.MapFile(s.Path, 2*shmem.RegionSize)

		if err != nil {
			return err
		}

		out := &shmem.Region{Mem: mem[:shmem.RegionSize]}
		in := &shmem.Region{Mem: mem[shmem.RegionSize:]}

		out.Init()
		in.Init()

		t := &shmem.Transport{
			Out:      out,
			In:       in,
			Interval: time.Duration(s.PollIntervalMS) * time.Millisecond,
			Bus:      bus,
			Logger:   logger,
		}

		t.Start()
		defer t.Stop()

		if err := bus.Register(notify.PriorityShmem, t); err != nil {
			return err
		}
	}

	go serveAdmin(adminAddr, registry, logger)

	// fault and lifecycle reporting
	var (
		onShutdown   func(string)
		onPretimeout func(uint32)
	)

	monitor := &pretimeout.Monitor{
		Messenger: msgr,
		Logger:    logger,
		Poweroff: func() error {
			unix.Sync()
			return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
		},
	}

	err = monitor.Start(pretimeout.Sources{
		Shutdown:   func(fn func(string)) { onShutdown = fn },
		Pretimeout: func(fn func(uint32)) { onPretimeout = fn },
	})

	if err != nil {
		logger.WithError(err).Warn("lifecycle up report failed")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGTERM, unix.SIGINT, unix.SIGPWR)

	for s := range sig {
		if s == unix.SIGPWR {
			// the platform watchdog pretimeout is delivered as a
			// power signal
			onPretimeout(0)
			continue
		}

		logger.WithField("signal", s).Info("shutting down")
		onShutdown(fmt.Sprintf("shutdown: %s", s))

		break
	}

	return nil
}
