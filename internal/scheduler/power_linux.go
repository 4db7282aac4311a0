//go:build linux

package scheduler

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// powerSupplyRoot is where the kernel exposes battery state.
const powerSupplyRoot = "/sys/class/power_supply"

// sysfsPower reads battery charge and discharge state from sysfs.
type sysfsPower struct {
	root string
}

// NewPowerProber returns a prober backed by /sys/class/power_supply.
func NewPowerProber() PowerProber {
	return &sysfsPower{root: powerSupplyRoot}
}

// Status reports the first battery found. ok is false on machines without
// one, or when sysfs is unreadable.
func (p *sysfsPower) Status() (percent int, onBattery, ok bool) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return 0, false, false
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "BAT") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(p.root, entry.Name(), "capacity"))
		if err != nil {
			continue
		}

		pct, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}

		status, _ := os.ReadFile(filepath.Join(p.root, entry.Name(), "status"))
		discharging := strings.EqualFold(strings.TrimSpace(string(status)), "Discharging")

		return pct, discharging, true
	}

	return 0, false, false
}
