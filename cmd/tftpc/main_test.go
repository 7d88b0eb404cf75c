package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/nettest"

	"github.com/Pablu23/tftpc/internal/config"
	"github.com/Pablu23/tftpc/internal/server"
)

func configFromArgs(t *testing.T, args ...string) *config.Config {
	t.Helper()
	var cfg *config.Config

	app := newApp()
	app.Commands = []*cli.Command{{
		Name: "capture",
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c)
			return err
		},
	}}

	if err := app.Run(append(append([]string{"tftpc"}, args...), "capture")); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tftpc.yaml")
	content := "server: cfghost\nport: 6000\nretries: 2\ntimeout: 3s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := configFromArgs(t, "--config", path, "--port", "7000", "--verbose")

	if cfg.Server != "cfghost" {
		t.Errorf("server = %q", cfg.Server)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Retries == nil || *cfg.Retries != 2 {
		t.Errorf("retries = %v", cfg.Retries)
	}
	if cfg.Timeout.Duration != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Timeout)
	}
	if !cfg.Verbose {
		t.Error("verbose flag ignored")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := configFromArgs(t)

	if cfg.Server != "localhost" || cfg.Port != 69 || cfg.Dir != "client_files" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func newTestSession(t *testing.T, port int) *session {
	t.Helper()
	cfg := config.Default()
	cfg.Server = "127.0.0.1"
	cfg.Port = port
	cfg.Dir = t.TempDir()
	cfg.Timeout = config.Duration{Duration: 500 * time.Millisecond}

	s, err := newSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func runShell(t *testing.T, s *session, input string) string {
	t.Helper()
	var out bytes.Buffer
	if err := newShell(s, strings.NewReader(input), &out).run(); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestShellCommands(t *testing.T) {
	s := newTestSession(t, 69)

	out := runShell(t, s, "mode\nswitch\nmode\nbogus\nread\n\nexit\nmode\n")

	for _, want := range []string{
		"Available commands:",
		"Current mode is: quiet",
		"The mode has been switched to verbose",
		"Current mode is: verbose",
		"Invalid command, please try again!",
		"Invalid request!",
		"Terminating client.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Count(out, "Current mode is:") != 2 {
		t.Error("commands after exit were executed")
	}
}

func TestShellEndOfInput(t *testing.T) {
	s := newTestSession(t, 69)

	out := runShell(t, s, "menu\n")
	if strings.Count(out, "Available commands:") != 2 {
		t.Errorf("menu not printed twice:\n%s", out)
	}
}

func TestShellWriteRequiresReadableFile(t *testing.T) {
	s := newTestSession(t, 69)

	out := runShell(t, s, "write absent.txt\nexit\n")
	if !strings.Contains(out, "No permission to read absent.txt") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func startTestServer(t *testing.T) *net.UDPAddr {
	t.Helper()
	pc, err := nettest.NewLocalPacketListener("udp")
	if err != nil {
		t.Fatal(err)
	}

	srv, err := server.New(func(o *server.Options) {
		o.Datapath = t.TempDir()
		o.Timeout = 500 * time.Millisecond
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		srv.Serve(pc.(*net.UDPConn))
		close(done)
	}()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return pc.LocalAddr().(*net.UDPAddr)
}

func TestShellTransfers(t *testing.T) {
	addr := startTestServer(t)

	cfg := newTestSession(t, addr.Port).cfg
	cfg.Server = addr.IP.String()
	s, err := newSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.store.Root(), "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := runShell(t, s, "write hello.txt\nread missing.txt\nexit\n")

	if !strings.Contains(out, "Sent hello.txt (5 bytes).") {
		t.Errorf("write not reported:\n%s", out)
	}
	if !strings.Contains(out, "Read of missing.txt failed") {
		t.Errorf("failed read not reported:\n%s", out)
	}
}

func TestShellCommandsIgnoreCase(t *testing.T) {
	s := newTestSession(t, 69)

	out := runShell(t, s, "MODE\nSwitch\nEXIT\nmode\n")

	for _, want := range []string{
		"Current mode is: quiet",
		"The mode has been switched to verbose",
		"Terminating client.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Invalid command") {
		t.Errorf("upper case command rejected:\n%s", out)
	}
}

func TestGetFailureLoggedOnce(t *testing.T) {
	addr := startTestServer(t)
	hook := logtest.NewGlobal()

	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{
		"tftpc",
		"--server", addr.IP.String(),
		"--port", strconv.Itoa(addr.Port),
		"--dir", t.TempDir(),
		"--timeout", "500ms",
		"get", "missing.txt",
	})

	var exit cli.ExitCoder
	if !errors.As(err, &exit) {
		t.Fatalf("expected an exit code, got %v", err)
	}
	if exit.ExitCode() != 1 || exit.Error() != "" {
		t.Errorf("exit %d with message %q", exit.ExitCode(), exit.Error())
	}

	failures := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level <= log.ErrorLevel {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failure logged %d times, want 1", failures)
	}
}
