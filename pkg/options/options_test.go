package options

import (
	"testing"
	"time"
)

func TestFleetOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *FleetOptions)
		wantErr bool
	}{
		{"defaults", func(o *FleetOptions) {}, false},
		{"ttl shorter than window", func(o *FleetOptions) { o.DisconnectTTL = 10 * time.Second }, true},
		{"ttl equal to window", func(o *FleetOptions) { o.DisconnectTTL = o.RestoreWindow }, false},
		{"zero rate limit", func(o *FleetOptions) { o.ManifestRateLimit = 0 }, true},
		{"negative buffer", func(o *FleetOptions) { o.PlaybackBuffer = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewFleetOptions()
			tt.mutate(o)
			errs := o.Validate()
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:8080", false},
		{":9090", false},
		{"localhost:65535", false},
		{"no-port", true},
		{"host:99999", true},
	}

	for _, tt := range tests {
		if err := ValidateAddress(tt.addr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestStoreOptionsValidate(t *testing.T) {
	o := NewStoreOptions()
	o.Driver = "postgres"
	if errs := o.Validate(); len(errs) == 0 {
		t.Error("expected unknown driver to fail validation")
	}

	o = NewStoreOptions()
	o.Driver = StoreDriverSQLite
	o.Path = ""
	if errs := o.Validate(); len(errs) == 0 {
		t.Error("expected sqlite without path to fail validation")
	}
}

func TestAgentOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *AgentOptions)
		wantErr bool
	}{
		{"defaults", func(o *AgentOptions) {}, false},
		{"relative url", func(o *AgentOptions) { o.HubURL = "hub:8080/api" }, true},
		{"fast heartbeat", func(o *AgentOptions) { o.HeartbeatInterval = 100 * time.Millisecond }, true},
		{"zero reconnect", func(o *AgentOptions) { o.ReconnectInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewAgentOptions()
			tt.mutate(o)
			errs := o.Validate()
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}
