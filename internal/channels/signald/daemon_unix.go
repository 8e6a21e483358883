// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package signald

import "syscall"

var stopSignal = syscall.SIGTERM
