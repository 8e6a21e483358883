// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package recover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanicHandlerSwallowsPanic(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer PanicHandler(LogAndContinue)

		defer func(t *testing.T) {
			r := recover()

			assert.Empty(t, r)

			close(done)
		}(t)

		panic("")
	}()

	<-done
}

func TestFuncWithPanicHandler(t *testing.T) {
	ran := false
	FuncWithPanicHandler(LogAndContinue, func() {
		ran = true
	})
	assert.True(t, ran)

	assert.NotPanics(t, func() {
		FuncWithPanicHandler(LogAndContinue, func() {
			panic("boom")
		})
	})
}
