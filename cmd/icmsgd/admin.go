// icmsgd daemon
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg/mboxchar"
)

type adminHandler struct {
	promHandler http.Handler
	registry    *mboxchar.Registry
}

func serveAdmin(addr string, registry *mboxchar.Registry, logger log.FieldLogger) {
	h := &adminHandler{
		promHandler: promhttp.Handler(),
		registry:    registry,
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.WithField("addr", addr).Info("admin server listening")

	if err := server.ListenAndServe(); err != nil {
		logger.WithError(err).Error("admin server failed")
	}
}

func (h *adminHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		h.servePing(w)
	case "/ready":
		h.serveReady(w)
	case "/devices":
		h.serveDevices(w)
	default:
		http.NotFound(w, req)
	}
}

func (h *adminHandler) servePing(w http.ResponseWriter) {
	w.Write([]byte("pong\n"))
}

func (h *adminHandler) serveReady(w http.ResponseWriter) {
	w.Write([]byte("ok\n"))
}

func (h *adminHandler) serveDevices(w http.ResponseWriter) {
	for _, name := range h.registry.Names() {
		fmt.Fprintln(w, name)
	}
}
