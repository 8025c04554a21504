package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// display is an Xvfb server for headful Chrome.
type display struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger
}

// startDisplay launches Xvfb on name (":99") and waits until its X socket
// appears, for at most two seconds.
func startDisplay(ctx context.Context, name string, logger *slog.Logger) (*display, error) {
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1366x768x24", "-nolisten", "tcp", "-ac")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	d := &display{name: name, cmd: cmd, logger: logger}

	socket := "/tmp/.X11-unix/X" + strings.TrimPrefix(name, ":")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			d.stop()
			return nil, fmt.Errorf("display %s not ready", name)
		}
		select {
		case <-ctx.Done():
			d.stop()
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	logger.Info("browser: xvfb started", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

func (d *display) stop() {
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd.Wait()
	}
	d.logger.Info("browser: xvfb stopped", "display", d.name)
}
