// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/channel/binpath"
	"github.com/hyvehq/relay-agent/pkg/log"
)

const (
	daemonBinary = "signal-cli"
	installHint  = "install signal-cli and make sure it is on PATH"

	// daemonPort is the fixed local port the daemon binds on 127.0.0.1.
	daemonPort = 47583

	healthPollInterval = 500 * time.Millisecond
	healthWaitTimeout  = 30 * time.Second
	stopGracePeriod    = 5 * time.Second
)

var dlog = log.WithComponent("Signal:Daemon")

func daemonBaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", daemonPort)
}

func rpcEndpoint() string    { return daemonBaseURL() + "/api/v1/rpc" }
func eventsEndpoint() string { return daemonBaseURL() + "/api/v1/events" }
func healthEndpoint() string { return daemonBaseURL() + "/api/v1/health" }

// daemon supervises one external signal-cli process bound to the loopback
// interface. The relay never speaks the Signal protocol itself.
type daemon struct {
	dataDir string
	cmd     *exec.Cmd
	done    chan error
}

// startDaemon spawns the daemon pointed at dataDir and waits until its health
// endpoint answers. The returned daemon is running.
func startDaemon(ctx context.Context, dataDir string) (*daemon, error) {
	argv, err := binpath.Find(daemonBinary, installHint)
	if err != nil {
		return nil, err
	}

	args := append(argv[1:], "--config", dataDir, "daemon", "--http", fmt.Sprintf("127.0.0.1:%d", daemonPort))
	cmd := exec.Command(argv[0], args...)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "unable to spawn %s", daemonBinary)
	}

	d := &daemon{
		dataDir: dataDir,
		cmd:     cmd,
		done:    make(chan error, 1),
	}
	go func() {
		d.done <- cmd.Wait()
	}()

	if err := d.awaitHealthy(ctx); err != nil {
		d.stop()
		return nil, err
	}

	dlog.WithField("pid", cmd.Process.Pid).Debug("Signal daemon is healthy.")
	return d, nil
}

// awaitHealthy polls the health endpoint every 500 ms for up to 30 s.
func (d *daemon) awaitHealthy(ctx context.Context) error {
	client := &http.Client{Timeout: healthPollInterval}
	deadline := time.Now().Add(healthWaitTimeout)

	for time.Now().Before(deadline) {
		select {
		case err := <-d.done:
			return errors.Wrapf(err, "%s exited before becoming healthy", daemonBinary)
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthEndpoint(), nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if err := backoff.Sleep(ctx, healthPollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s did not become healthy within %s", daemonBinary, healthWaitTimeout)
}

// stop terminates the daemon: SIGTERM first, SIGKILL after the grace period.
func (d *daemon) stop() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}

	if err := d.cmd.Process.Signal(stopSignal); err != nil {
		_ = d.cmd.Process.Kill()
		return
	}

	select {
	case <-d.done:
	case <-time.After(stopGracePeriod):
		dlog.Warn("Signal daemon ignored the termination signal, killing it.")
		_ = d.cmd.Process.Kill()
		<-d.done
	}
}
