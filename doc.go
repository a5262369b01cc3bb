// Inter-cluster messaging for heterogeneous multi-chiplet SoCs
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package icmsg holds the error kinds shared by the messaging stack for
// heterogeneous multi-chiplet SoCs, in which a management cluster and one
// or more application clusters exchange fixed-size system messages over
// hardware mailboxes and shared-memory windows.
//
// The stack is layered bottom-up as follows:
//
//   - mbox: mailbox bank driver and its channel layer
//   - mboxchar: character-style per-instance endpoints
//   - mboxlink, shmem: transports
//   - notify: priority-ordered transport bus
//   - sysmsg: system message envelope, dispatcher and sender
//   - pretimeout: fault/lifecycle monitor
//
// The allocmap package describes the cluster-wide mailbox allocation map
// consumed by the icmsgd daemon under cmd.
package icmsg
