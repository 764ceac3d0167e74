package params

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDefaultValidates(t *testing.T) {
	p := Default()
	test.That(t, p.Validate("default"), test.ShouldBeNil)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero time delta", func(p *Parameters) { p.TimeDelta = 0 }},
		{"negative step frequency", func(p *Parameters) { p.StepFrequency = -1 }},
		{"step clearance out of range", func(p *Parameters) { p.StepClearance = 1.5 }},
		{"body clearance out of range", func(p *Parameters) { p.BodyClearance = 2 }},
		{"zero swing phase", func(p *Parameters) { p.SwingPhase = 0 }},
		{"no offset multipliers", func(p *Parameters) { p.OffsetMultiplier = nil }},
		{"bad pose frequency", func(p *Parameters) { p.PoseFrequency = 0 }},
		{"mismatched pose phases", func(p *Parameters) { p.PosePhaseStarts = []int{1} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := Default()
			tc.mutate(&p)
			test.That(t, p.Validate("test"), test.ShouldNotBeNil)
		})
	}
}

func TestReadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	contents := `{
		"step_frequency": 2.0,
		"stance_phase": 4,
		"rotation_pid_gains": {"p": 1.5, "i": 0.1, "d": 0.05}
	}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	p, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.StepFrequency, test.ShouldEqual, 2.0)
	test.That(t, p.StancePhase, test.ShouldEqual, 4)
	test.That(t, p.RotationPIDGains.P, test.ShouldEqual, 1.5)
	// Untouched fields keep defaults.
	test.That(t, p.TimeDelta, test.ShouldEqual, 0.02)
}

func TestReadSubstitutesEnv(t *testing.T) {
	t.Setenv("STEP_FREQ", "1.5")
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	test.That(t, os.WriteFile(path, []byte(`{"step_frequency": ${STEP_FREQ}}`), 0o600), test.ShouldBeNil)

	p, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.StepFrequency, test.ShouldEqual, 1.5)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
