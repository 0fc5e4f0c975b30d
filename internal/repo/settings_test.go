package repo

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"wiretide/internal/fleet"
	"wiretide/internal/models"
)

func TestSettings_LazySeedAndRotate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.settings.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(first.SharedToken)
	if err != nil || len(raw) != 32 {
		t.Errorf("token %q is not 32 url-safe bytes", first.SharedToken)
	}
	if first.AgentUpdatePolicy != string(fleet.UpdateOff) || first.MonitoringAPIEnabled {
		t.Errorf("defaults = %+v", first)
	}

	again, _ := e.settings.Current(ctx)
	if again.SharedToken != first.SharedToken {
		t.Error("Current() is not stable")
	}

	rotated, err := e.settings.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if rotated == first.SharedToken {
		t.Error("Rotate() kept the old token")
	}
	if cur, _ := e.settings.SharedToken(ctx); cur != rotated {
		t.Errorf("SharedToken() = %q, want %q", cur, rotated)
	}

	var rows int64
	e.db.Model(&models.ControllerSettings{}).Count(&rows)
	if rows != 1 {
		t.Errorf("settings rows = %d, want 1", rows)
	}
}

func TestSettings_AgentPolicy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	got, err := e.settings.UpdateAgentPolicy(ctx, AgentPolicyInput{
		Policy:     "per_device",
		URL:        strp(" https://updates.example/agent "),
		MinVersion: strp("1.4.0"),
	})
	if err != nil {
		t.Fatalf("UpdateAgentPolicy() error = %v", err)
	}
	if got.AgentUpdatePolicy != "per_device" || got.AgentUpdateURL == nil || *got.AgentUpdateURL != "https://updates.example/agent" {
		t.Errorf("settings = %+v", got)
	}
	if got.AgentMinVersion == nil || *got.AgentMinVersion != "1.4.0" {
		t.Errorf("min version = %v", got.AgentMinVersion)
	}

	for _, in := range []AgentPolicyInput{
		{Policy: "sometimes"},
		{Policy: "force_on", MinVersion: strp("latest")},
	} {
		if _, err := e.settings.UpdateAgentPolicy(ctx, in); !errors.Is(err, fleet.ErrInvalidArgument) {
			t.Errorf("UpdateAgentPolicy(%+v) err = %v", in, err)
		}
	}

	cleared, err := e.settings.UpdateAgentPolicy(ctx, AgentPolicyInput{Policy: "off"})
	if err != nil {
		t.Fatal(err)
	}
	if cleared.AgentUpdateURL != nil || cleared.AgentMinVersion != nil {
		t.Errorf("omitted url/version not cleared: %+v", cleared)
	}
}

func TestSettings_Monitoring(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if on, _ := e.settings.MonitoringEnabled(ctx); on {
		t.Fatal("monitoring enabled by default")
	}
	if _, err := e.settings.SetMonitoring(ctx, true); err != nil {
		t.Fatal(err)
	}
	if on, _ := e.settings.MonitoringEnabled(ctx); !on {
		t.Error("monitoring not enabled")
	}
}
