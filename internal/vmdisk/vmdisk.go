// Package vmdisk shells out to qemu-img to create and inspect the
// copy-on-write disk images backing Vm workloads. It deliberately covers
// only the two operations the reconciler needs, not general qemu-img
// tooling.
package vmdisk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/fleetd/internal/ferr"
)

const defaultTimeout = 60 * time.Second

// Info is the subset of `qemu-img info --output=json` this package reads.
type Info struct {
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
	Backing     string `json:"backing-filename,omitempty"`
}

// Manager invokes qemu-img at binaryPath ("qemu-img" by default).
type Manager struct {
	binaryPath string
}

// New returns a Manager. If binaryPath is empty, "qemu-img" is resolved
// from PATH at invocation time.
func New(binaryPath string) *Manager {
	if binaryPath == "" {
		binaryPath = "qemu-img"
	}
	return &Manager{binaryPath: binaryPath}
}

// Create builds a new copy-on-write image at dest backed by base, sized
// to sizeBytes (0 keeps the backing file's size). Mirrors
// `qemu-img create -f qcow2 -b base -F qcow2 dest [size]`.
func (m *Manager) Create(ctx context.Context, dest, base string, sizeBytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	args := []string{"create", "-f", "qcow2"}
	if base != "" {
		args = append(args, "-b", base, "-F", "qcow2")
	}
	args = append(args, dest)
	if sizeBytes > 0 {
		args = append(args, fmt.Sprintf("%d", sizeBytes))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binaryPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ferr.Backend(err, "qemu-img create %s: %s", dest, stderr.String())
	}
	return nil
}

// Inspect returns the image metadata for path via `qemu-img info`.
func (m *Manager) Inspect(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binaryPath, "info", "--output=json", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, ferr.Backend(err, "qemu-img info %s: %s", path, stderr.String())
	}

	var info Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, ferr.Backend(err, "parsing qemu-img info output for %s", path)
	}
	return &info, nil
}
