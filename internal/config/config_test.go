package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default scheduler mode is pull",
			check:  func(c *Config) bool { return c.SchedulerPushMode == false },
			expect: "false",
		},
		{
			name:   "default scheduler interval is 30s",
			check:  func(c *Config) bool { return c.SchedulerInterval.Seconds() == 30 },
			expect: "30s",
		},
		{
			name:   "default sweep interval is 30m",
			check:  func(c *Config) bool { return c.SweepInterval.Minutes() == 30 },
			expect: "30m",
		},
		{
			name:   "default lease ttl is 120s",
			check:  func(c *Config) bool { return c.LeaseTTL.Seconds() == 120 },
			expect: "120s",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
