package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tcplog/config"
	ncerr "tcplog/internal/errors"
	"tcplog/util"
)

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	if err := execute(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "tcplog "+version) {
		t.Errorf("output = %q", out.String())
	}
}

// TestExecute_Help verifies --help prints usage and succeeds.
func TestExecute_Help(t *testing.T) {
	var out bytes.Buffer
	if err := execute(context.Background(), []string{"--help"}, &out, io.Discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{usageLine, "--output", "--socks5", "--tunnel"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help missing %q", want)
		}
	}
}

// TestExecute_BadArguments verifies argument problems are config
// errors.
func TestExecute_BadArguments(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		field     string
		wantUsage bool
	}{
		{"no args", nil, "arguments", true},
		{"two args", []string{"8080", "80"}, "arguments", true},
		{"four args", []string{"8080", "80", "host", "extra"}, "arguments", true},
		{"listen port not a number", []string{"http", "80", "host"}, "listen-port", false},
		{"upstream port out of range", []string{"8080", "70000", "host"}, "upstream-port", false},
		{"unknown flag", []string{"--nonexistent-flag", "8080", "80", "host"}, "", false},
		{"bad tunnel", []string{"-T", "a@b@c", "8080", "80", "host"}, "tunnel", false},
		{"two routes", []string{"-x", "127.0.0.1:1080", "-T", "gw", "8080", "80", "host"}, "socks5", false},
		{"bad color", []string{"--color", "rainbow", "8080", "80", "host"}, "color", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			err := execute(context.Background(), append(tt.args, "--dry-run"), io.Discard, &stderr)
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *ncerr.ConfigError
			if !ncerr.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %T: %v", err, err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
			if tt.wantUsage && !strings.Contains(stderr.String(), "Usage:") {
				t.Errorf("usage not printed:\n%s", stderr.String())
			}
		})
	}
}

// TestParseArgs verifies flags land in the Config.
func TestParseArgs(t *testing.T) {
	inv, err := parseArgs([]string{
		"-o", "/tmp/caps", "-w", "3", "-n",
		"--breaker-failures", "4", "--breaker-reset", "9",
		"--grace", "2", "--stats-interval", "60", "-vv",
		"8080", "80", "10.1.2.3",
	}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg := inv.cfg

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ListenPort", cfg.ListenPort, 8080},
		{"UpstreamPort", cfg.UpstreamPort, 80},
		{"UpstreamHost", cfg.UpstreamHost, "10.1.2.3"},
		{"OutputDir", cfg.OutputDir, "/tmp/caps"},
		{"DialTimeout", cfg.DialTimeout, 3 * time.Second},
		{"NoDNS", cfg.NoDNS, true},
		{"BreakerFailures", cfg.BreakerFailures, 4},
		{"BreakerReset", cfg.BreakerReset, 9 * time.Second},
		{"GracePeriod", cfg.GracePeriod, 2 * time.Second},
		{"StatsInterval", cfg.StatsInterval, time.Minute},
		{"Verbose", cfg.Verbose, 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

// TestParseArgs_Defaults verifies the values used without flags.
func TestParseArgs_Defaults(t *testing.T) {
	inv, err := parseArgs([]string{"8080", "80", "example.com"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg := inv.cfg
	if cfg.OutputDir != config.DefaultOutputDir {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.DialTimeout != config.DefaultDialTimeout {
		t.Errorf("DialTimeout = %v", cfg.DialTimeout)
	}
	if cfg.GracePeriod != config.DefaultGracePeriod {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if cfg.Verbose != 1 {
		t.Errorf("Verbose = %d, want 1", cfg.Verbose)
	}
	if cfg.BreakerFailures != 0 {
		t.Errorf("BreakerFailures = %d, want 0", cfg.BreakerFailures)
	}
}

// TestParseArgs_Tunnel verifies -T fills in the gateway.
func TestParseArgs_Tunnel(t *testing.T) {
	inv, err := parseArgs([]string{"-T", "ops@bastion:2222", "--ssh-agent", "5432", "5432", "db"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg := inv.cfg
	if !cfg.TunnelEnabled || cfg.TunnelUser != "ops" || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 2222 {
		t.Errorf("tunnel = %v %q@%q:%d", cfg.TunnelEnabled, cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	if !cfg.UseSSHAgent {
		t.Error("UseSSHAgent not set")
	}
}

// TestParseArgs_EnvThenFlags verifies flags override TCPLOG_* values.
func TestParseArgs_EnvThenFlags(t *testing.T) {
	t.Setenv("TCPLOG_OUTPUT", "/from/env")
	t.Setenv("TCPLOG_GRACE", "7")
	t.Setenv("TCPLOG_SOCKS5", "127.0.0.1:1080")

	inv, err := parseArgs([]string{"-o", "/from/flag", "8080", "80", "host"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg := inv.cfg
	if cfg.OutputDir != "/from/flag" {
		t.Errorf("OutputDir = %q, want the flag value", cfg.OutputDir)
	}
	if cfg.GracePeriod != 7*time.Second {
		t.Errorf("GracePeriod = %v, want the env value", cfg.GracePeriod)
	}
	if cfg.SOCKS5Proxy != "127.0.0.1:1080" {
		t.Errorf("SOCKS5Proxy = %q", cfg.SOCKS5Proxy)
	}
}

// TestParseArgs_Quiet verifies -q silences everything but errors.
func TestParseArgs_Quiet(t *testing.T) {
	inv, err := parseArgs([]string{"-q", "-v", "8080", "80", "host"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if inv.cfg.Verbose != 0 {
		t.Errorf("Verbose = %d, want 0", inv.cfg.Verbose)
	}
}

// TestExecute_DryRun verifies --dry-run validates without touching the
// output directory.
func TestExecute_DryRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "caps")
	var out bytes.Buffer
	err := execute(context.Background(),
		[]string{"--dry-run", "-o", dir, "-x", "127.0.0.1:1080", "8080", "80", "10.0.0.1"},
		&out, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{":8080", "10.0.0.1:80", "socks5 127.0.0.1:1080", dir} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("dry-run output %q missing %q", out.String(), want)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dry-run created %s", dir)
	}
}

// TestExecute_OutputDirFailure verifies an unusable output directory is
// a storage error.
func TestExecute_OutputDirFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := execute(context.Background(),
		[]string{"-q", "-o", filepath.Join(file, "sub"), "8080", "80", "127.0.0.1"},
		io.Discard, io.Discard)
	if !ncerr.IsStorageError(err) {
		t.Fatalf("expected StorageError, got %T: %v", err, err)
	}
}

// TestExecute_BindFailure verifies a taken listen port is reported.
func TestExecute_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()
	port := strconv.Itoa(taken.Addr().(*net.TCPAddr).Port)

	err = execute(context.Background(),
		[]string{"-q", "-o", t.TempDir(), port, "80", "127.0.0.1"},
		io.Discard, io.Discard)
	if !ncerr.IsBindError(err) {
		t.Fatalf("expected bind error, got %T: %v", err, err)
	}
}

// TestExecute_Run relays one session end to end and shuts down.
func TestExecute_Run(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upstream.Close()
	go func() {
		for {
			c, err := upstream.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}()
		}
	}()

	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	upPort := strconv.Itoa(upstream.Addr().(*net.TCPAddr).Port)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- execute(ctx,
			[]string{"-q", "--grace", "0", "-o", dir, strconv.Itoa(port), upPort, "127.0.0.1"},
			io.Discard, io.Discard)
	}()

	var client net.Conn
	deadline := time.Now().Add(5 * time.Second)
	for {
		client, err = net.Dial("tcp", util.FormatAddr("127.0.0.1", port))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("proxy never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	client.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	client.Write([]byte("hello")) //nolint:errcheck
	buf := make([]byte, 5)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("echo: %v", err)
	}
	client.Close()

	deadline = time.Now().Add(5 * time.Second)
	for {
		metas, _ := filepath.Glob(filepath.Join(dir, "*.meta"))
		if len(metas) == 1 {
			data, _ := os.ReadFile(metas[0])
			if strings.Contains(string(data), "session closed after") {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not finalized")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not shut down")
	}

	for _, ext := range []string{".upstream", ".downstream"} {
		files, _ := filepath.Glob(filepath.Join(dir, "*"+ext))
		if len(files) != 1 {
			t.Fatalf("%d %s files", len(files), ext)
		}
		data, _ := os.ReadFile(files[0])
		if string(data) != "hello" {
			t.Errorf("%s = %q", ext, data)
		}
	}
}
