package rauc

import (
	"context"
	"fmt"

	"github.com/fwkit/rauctl/internal/installer"
)

// Status is a point-in-time snapshot of the installer's properties.
type Status struct {
	Operation  string
	LastError  string
	Progress   installer.Progress
	Compatible string
	Variant    string
	BootSlot   string
}

// BundleInfo describes a bundle as reported by the service.
type BundleInfo struct {
	Compatible string
	Version    string
}

// Status reads the installer's current properties one by one.
func (p *Proxy) Status(ctx context.Context) (Status, error) {
	var status Status

	for _, prop := range []struct {
		name string
		dest *string
	}{
		{"Operation", &status.Operation},
		{"LastError", &status.LastError},
		{"Compatible", &status.Compatible},
		{"Variant", &status.Variant},
		{"BootSlot", &status.BootSlot},
	} {
		v, err := p.obj.GetProperty(InterfaceInstaller + "." + prop.name)
		if err != nil {
			return Status{}, fmt.Errorf("reading %s: %w", prop.name, err)
		}
		if s, ok := v.Value().(string); ok {
			*prop.dest = s
		}
	}

	v, err := p.obj.GetProperty(InterfaceInstaller + ".Progress")
	if err != nil {
		return Status{}, fmt.Errorf("reading Progress: %w", err)
	}
	if progress, ok := decodeProgress(v); ok {
		status.Progress = progress
	}

	return status, nil
}

// Info queries the service for a bundle's compatible string and version.
func (p *Proxy) Info(ctx context.Context, bundle string) (BundleInfo, error) {
	var info BundleInfo
	call := p.obj.CallWithContext(ctx, InterfaceInstaller+".Info", 0, bundle)
	if call.Err != nil {
		return BundleInfo{}, fmt.Errorf("Info %s: %w", bundle, call.Err)
	}
	if err := call.Store(&info.Compatible, &info.Version); err != nil {
		return BundleInfo{}, fmt.Errorf("decoding Info reply: %w", err)
	}
	return info, nil
}

// Mark sets a slot's state ("good", "bad", or "active"). An empty slot
// identifier targets the booted slot. Returns the affected slot name and
// the service's message.
func (p *Proxy) Mark(ctx context.Context, state, slot string) (string, string, error) {
	if slot == "" {
		slot = "booted"
	}
	var slotName, message string
	call := p.obj.CallWithContext(ctx, InterfaceInstaller+".Mark", 0, state, slot)
	if call.Err != nil {
		return "", "", fmt.Errorf("Mark %s %s: %w", state, slot, call.Err)
	}
	if err := call.Store(&slotName, &message); err != nil {
		return "", "", fmt.Errorf("decoding Mark reply: %w", err)
	}
	return slotName, message, nil
}
