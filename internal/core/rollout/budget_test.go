package rollout

import (
	"testing"

	"github.com/example/ecs-manage/internal/core/service"
)

func TestComputeBudget(t *testing.T) {
	tests := []struct {
		name    string
		desired int
		policy  service.DeploymentPolicy
		want    Budget
	}{
		{
			name:    "surge rounds up, unavailable rounds down",
			desired: 5,
			policy:  service.DeploymentPolicy{MaxSurgePercent: 25, MaxUnavailablePercent: 25},
			want:    Budget{MaxSurge: 2, MaxUnavailable: 1},
		},
		{
			name:    "exact percentages",
			desired: 10,
			policy:  service.DeploymentPolicy{MaxSurgePercent: 50, MaxUnavailablePercent: 20},
			want:    Budget{MaxSurge: 5, MaxUnavailable: 2},
		},
		{
			name:    "small unavailable rounds to zero",
			desired: 3,
			policy:  service.DeploymentPolicy{MaxSurgePercent: 100, MaxUnavailablePercent: 10},
			want:    Budget{MaxSurge: 3, MaxUnavailable: 0},
		},
		{
			name:    "zero desired",
			desired: 0,
			policy:  service.DeploymentPolicy{MaxSurgePercent: 100, MaxUnavailablePercent: 100},
			want:    Budget{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBudget(tt.desired, tt.policy)
			if got != tt.want {
				t.Errorf("ComputeBudget(%d, %+v) = %+v, want %+v", tt.desired, tt.policy, got, tt.want)
			}
		})
	}
}

func TestBudget_BoundsNeverExceedUnavailable(t *testing.T) {
	// The platform keeps ceil(desired*min%/100) tasks healthy and runs at
	// most floor(desired*max%/100); both must stay within the budget.
	for desired := 1; desired <= 50; desired++ {
		for pct := 0; pct <= 100; pct += 5 {
			policy := service.DeploymentPolicy{MaxSurgePercent: pct, MaxUnavailablePercent: pct}
			b := ComputeBudget(desired, policy)
			bounds := b.Bounds(desired)

			keptHealthy := (desired*bounds.MinimumHealthyPercent + 99) / 100
			if desired-keptHealthy > b.MaxUnavailable {
				t.Fatalf("desired=%d pct=%d: platform may take %d unavailable, budget %d", desired, pct, desired-keptHealthy, b.MaxUnavailable)
			}
			maxRunning := desired * bounds.MaximumPercent / 100
			if maxRunning > desired+b.MaxSurge {
				t.Fatalf("desired=%d pct=%d: platform may run %d, budget %d", desired, pct, maxRunning, desired+b.MaxSurge)
			}
		}
	}
}

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		desired int
		policy  service.DeploymentPolicy
		wantErr bool
	}{
		{name: "surge only", desired: 4, policy: service.DeploymentPolicy{MaxSurgePercent: 25}},
		{name: "unavailable only", desired: 4, policy: service.DeploymentPolicy{MaxUnavailablePercent: 25}},
		{name: "no room to move", desired: 4, policy: service.DeploymentPolicy{}, wantErr: true},
		{name: "unavailable rounds to zero without surge", desired: 3, policy: service.DeploymentPolicy{MaxUnavailablePercent: 10}, wantErr: true},
		{name: "zero desired is fine", desired: 0, policy: service.DeploymentPolicy{}},
		{name: "negative percent", desired: 2, policy: service.DeploymentPolicy{MaxSurgePercent: -1}, wantErr: true},
		{name: "unavailable above 100", desired: 2, policy: service.DeploymentPolicy{MaxUnavailablePercent: 150}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicy(tt.desired, tt.policy)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
