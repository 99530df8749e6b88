package config

import (
	"testing"
	"time"
)

func TestValidateRejectsNonPositiveBufferCapacity(t *testing.T) {
	cfg := &Config{
		WebSocket: WebSocketConfig{BufferCapacity: 0},
		Broadcast: BroadcastConfig{ChannelCapacity: 10},
		Reaper:    ReaperConfig{IntervalSecs: 60, MaxPerTick: 5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject a zero ws.buffer_capacity")
	}
}

func TestValidateRejectsNonPositiveChannelCapacity(t *testing.T) {
	cfg := &Config{
		WebSocket: WebSocketConfig{BufferCapacity: 100},
		Broadcast: BroadcastConfig{ChannelCapacity: -1},
		Reaper:    ReaperConfig{IntervalSecs: 60, MaxPerTick: 5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject a negative broadcast.channel_capacity")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &Config{
		WebSocket: WebSocketConfig{BufferCapacity: 100},
		Broadcast: BroadcastConfig{ChannelCapacity: 10},
		Reaper:    ReaperConfig{IntervalSecs: 60, MaxPerTick: 5},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on well-formed config returned %v", err)
	}
}

func TestTimeoutConfigHoldsPerCollabTypeDurations(t *testing.T) {
	cfg := TimeoutConfig{
		Document:      10 * time.Minute,
		Database:      60 * time.Minute,
		WorkspaceEtc:  120 * time.Minute,
		Debug:         true,
		DebugDuration: 2 * time.Minute,
	}
	if cfg.Document != 10*time.Minute {
		t.Fatalf("Document = %v, want 10m", cfg.Document)
	}
	if !cfg.Debug {
		t.Fatal("Debug should be true")
	}
	if cfg.DebugDuration != 2*time.Minute {
		t.Fatalf("DebugDuration = %v, want 2m", cfg.DebugDuration)
	}
}

func TestValidateRejectsNonPositiveReaperFields(t *testing.T) {
	base := Config{
		WebSocket: WebSocketConfig{BufferCapacity: 100},
		Broadcast: BroadcastConfig{ChannelCapacity: 10},
	}

	intervalZero := base
	intervalZero.Reaper = ReaperConfig{IntervalSecs: 0, MaxPerTick: 5}
	if err := intervalZero.Validate(); err == nil {
		t.Error("Validate() should reject a zero reaper.interval_secs")
	}

	maxPerTickZero := base
	maxPerTickZero.Reaper = ReaperConfig{IntervalSecs: 60, MaxPerTick: 0}
	if err := maxPerTickZero.Validate(); err == nil {
		t.Error("Validate() should reject a zero reaper.max_per_tick")
	}
}
