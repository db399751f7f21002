package app

import (
	"testing"
	"time"

	"sendbot/internal/config"
)

func TestPoolConfigDefaults(t *testing.T) {
	pcfg, err := poolConfig(&config.Config{})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if pcfg.ScaleInterval != 5*time.Second || pcfg.StartDelay != 4*time.Second {
		t.Fatalf("defaults = %+v", pcfg)
	}
	if pcfg.IdleBackoff != 2*time.Second || pcfg.ProbeInterval != 6*time.Second {
		t.Fatalf("defaults = %+v", pcfg)
	}
}

func TestPoolConfigRejectsBadDuration(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pool.ScaleInterval = "soon"
	if _, err := poolConfig(cfg); err == nil {
		t.Fatal("accepted unparseable scale_interval")
	}
}

func TestMaintenanceDefaultsEnabled(t *testing.T) {
	if mc := maintenanceConfig(&config.Config{}); !mc.Enabled {
		t.Fatal("maintenance should default to enabled when section is omitted")
	}
	off := &config.Config{Maintenance: &config.MaintenanceConfig{Enabled: false}}
	if mc := maintenanceConfig(off); mc.Enabled {
		t.Fatal("explicit disable ignored")
	}
}
