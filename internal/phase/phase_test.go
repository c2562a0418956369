package phase

import (
	"testing"

	"github.com/printforge/moonbridge/internal/rpc"
)

type fakeRegistry struct {
	handlers map[string]rpc.NotificationFunc
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{handlers: make(map[string]rpc.NotificationFunc)}
}

func (f *fakeRegistry) RegisterMethodHandler(method, name string, fn rpc.NotificationFunc) {
	f.handlers[method+"/"+name] = fn
}

func (f *fakeRegistry) UnregisterMethodHandler(method, name string) bool {
	key := method + "/" + name
	_, ok := f.handlers[key]
	delete(f.handlers, key)
	return ok
}

func (f *fakeRegistry) push(lines string) {
	fn := f.handlers["notify_gcode_response/phase-detector"]
	if fn != nil {
		fn(&rpc.Notification{Method: "notify_gcode_response", Params: []byte(lines)})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Phase
	}{
		{"G28 X Y", PhaseHoming},
		{"// Homing XY", PhaseHoming},
		{"M109 S210", PhaseHeating},
		{"echo: heating nozzle", PhaseHeating},
		{"M190 S60", PhaseHeating},
		{"G29", PhaseLeveling},
		{"// bed_mesh: generated mesh", PhaseLeveling},
		{"// Print started", PhasePrinting},
		{"Resuming print", PhasePrinting},
		{"Print finished successfully", PhaseComplete},
		{"// Done printing file, print complete", PhaseComplete},
		{"B:59.9 /60.0 T0:209.8 /210.0", PhaseUnknown},
		{"ok", PhaseUnknown},
	}
	for _, tt := range tests {
		if got := classify(tt.line); got != tt.want {
			t.Errorf("classify(%q) = %s, want %s", tt.line, got, tt.want)
		}
	}
}

func TestDetector_ReportsTransitions(t *testing.T) {
	reg := newFakeRegistry()

	type change struct{ from, to Phase }
	var changes []change
	d := NewDetector(reg, func(from, to Phase) { changes = append(changes, change{from, to}) }, nil)
	d.Start()
	defer d.Stop()

	reg.push(`["G28 X Y"]`)
	reg.push(`["M109 S210"]`)
	reg.push(`["// Print started"]`)

	want := []change{
		{PhaseUnknown, PhaseHoming},
		{PhaseHoming, PhaseHeating},
		{PhaseHeating, PhasePrinting},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v", changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
	if d.Current() != PhasePrinting {
		t.Errorf("Current() = %s", d.Current())
	}
}

func TestDetector_NoRepeatForSamePhase(t *testing.T) {
	reg := newFakeRegistry()

	var calls int
	d := NewDetector(reg, func(Phase, Phase) { calls++ }, nil)
	d.Start()
	defer d.Stop()

	reg.push(`["M109 S210","echo: heating nozzle"]`)
	reg.push(`["M190 S60"]`)

	if calls != 1 {
		t.Fatalf("onChange invoked %d times for one sustained phase, want 1", calls)
	}
}

func TestDetector_IgnoresUnrecognizedAndMalformed(t *testing.T) {
	reg := newFakeRegistry()

	var calls int
	d := NewDetector(reg, func(Phase, Phase) { calls++ }, nil)
	d.Start()
	defer d.Stop()

	reg.push(`["ok","B:59.9 /60.0"]`)
	reg.push(`{"not":"an array"}`)

	if calls != 0 {
		t.Fatal("onChange invoked for noise input")
	}
	if d.Current() != PhaseUnknown {
		t.Errorf("Current() = %s, want unknown", d.Current())
	}
}

func TestDetector_Reset(t *testing.T) {
	reg := newFakeRegistry()
	d := NewDetector(reg, nil, nil)
	d.Start()
	defer d.Stop()

	reg.push(`["Print finished"]`)
	if d.Current() != PhaseComplete {
		t.Fatalf("Current() = %s", d.Current())
	}
	d.Reset()
	if d.Current() != PhaseUnknown {
		t.Fatal("Reset did not clear phase")
	}
}
