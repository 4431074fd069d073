package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeSystemctl(t *testing.T) *[]string {
	t.Helper()
	var calls []string
	old, oldPath := systemctl, unitPath
	systemctl = func(args ...string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	}
	unitPath = filepath.Join(t.TempDir(), "system", unitName)
	t.Cleanup(func() { systemctl, unitPath = old, oldPath })
	return &calls
}

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/smarteye", "/etc/smarteye.json", "/run/smarteye.sock")
	want := "ExecStart=/usr/local/bin/smarteye daemon --config /etc/smarteye.json --daemon-socket /run/smarteye.sock\n"
	if !strings.Contains(u, want) {
		t.Fatalf("unit does not contain %q:\n%s", want, u)
	}
	if strings.Contains(u, "{{") {
		t.Fatalf("unit has unreplaced placeholders:\n%s", u)
	}
}

func TestInstallUninstall(t *testing.T) {
	calls := fakeSystemctl(t)

	if err := Install("/etc/smarteye.json", "/run/smarteye.sock"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	b, err := os.ReadFile(unitPath)
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if !strings.Contains(string(b), "--config /etc/smarteye.json") {
		t.Fatalf("unexpected unit:\n%s", b)
	}

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Fatalf("unit still present: %v", err)
	}
	// Uninstalling twice is fine.
	if err := Uninstall(); err != nil {
		t.Fatalf("second Uninstall() error = %v", err)
	}

	want := []string{
		"daemon-reload",
		"enable --now smarteye.service",
		"disable --now smarteye.service",
		"daemon-reload",
		"disable --now smarteye.service",
		"daemon-reload",
	}
	if strings.Join(*calls, "|") != strings.Join(want, "|") {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
}
