package servo

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestCheckValidTwist(t *testing.T) {
	valid := &TwistCommand{Linear: r3.Vector{X: 0.5}, Angular: r3.Vector{Z: -0.5}}
	test.That(t, checkValidTwist(valid, CommandInUnitless), test.ShouldBeNil)
	test.That(t, checkValidTwist(valid, CommandInSpeedUnits), test.ShouldBeNil)

	nan := &TwistCommand{Linear: r3.Vector{X: math.NaN()}}
	test.That(t, checkValidTwist(nan, CommandInUnitless), test.ShouldNotBeNil)
	test.That(t, checkValidTwist(nan, CommandInSpeedUnits), test.ShouldNotBeNil)

	// Magnitudes above one are only an error in unitless mode.
	big := &TwistCommand{Angular: r3.Vector{Y: 1.5}}
	test.That(t, checkValidTwist(big, CommandInUnitless), test.ShouldNotBeNil)
	test.That(t, checkValidTwist(big, CommandInSpeedUnits), test.ShouldBeNil)
}

func TestCheckValidJog(t *testing.T) {
	test.That(t, checkValidJog(&JointJogCommand{Velocities: []float64{1, -1}}), test.ShouldBeNil)
	test.That(t, checkValidJog(&JointJogCommand{Velocities: []float64{1, math.NaN()}}), test.ShouldNotBeNil)
}

func TestScaleCartesianCommand(t *testing.T) {
	cfg := testConfig()
	cmd := &TwistCommand{Linear: r3.Vector{X: 1, Y: -1}, Angular: r3.Vector{Z: 0.5}}

	// unitless: scale * period * component
	deltas := scaleCartesianCommand(cmd, cfg)
	test.That(t, deltas[0], test.ShouldAlmostEqual, 0.005, 1e-12)
	test.That(t, deltas[1], test.ShouldAlmostEqual, -0.005, 1e-12)
	test.That(t, deltas[2], test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, deltas[5], test.ShouldAlmostEqual, 0.0025, 1e-12)

	// speed_units: period * component
	cfg.CommandInType = CommandInSpeedUnits
	deltas = scaleCartesianCommand(cmd, cfg)
	test.That(t, deltas[0], test.ShouldAlmostEqual, 0.01, 1e-12)
	test.That(t, deltas[5], test.ShouldAlmostEqual, 0.005, 1e-12)
}

func TestScaleJointCommand(t *testing.T) {
	h := newTestHarness(t, testConfig())

	cmd := &JointJogCommand{
		Stamp:      time.Now(),
		JointNames: []string{"joint2", "joint5"},
		Velocities: []float64{1, -1},
	}
	deltas := h.servo.scaleJointCommand(cmd)
	test.That(t, len(deltas), test.ShouldEqual, 6)
	test.That(t, deltas[1], test.ShouldAlmostEqual, 0.005, 1e-12)
	test.That(t, deltas[4], test.ShouldAlmostEqual, -0.005, 1e-12)
	test.That(t, deltas[0], test.ShouldEqual, 0.0)

	// Unknown joints are ignored and never grow the output.
	cmd = &JointJogCommand{
		JointNames: []string{"not_a_joint", "joint1"},
		Velocities: []float64{1, 1},
	}
	deltas = h.servo.scaleJointCommand(cmd)
	test.That(t, len(deltas), test.ShouldEqual, 6)
	test.That(t, deltas[0], test.ShouldAlmostEqual, 0.005, 1e-12)
	for i := 1; i < 6; i++ {
		test.That(t, deltas[i], test.ShouldEqual, 0.0)
	}
}

func TestCommandIsZero(t *testing.T) {
	test.That(t, (&TwistCommand{}).IsZero(), test.ShouldBeTrue)
	test.That(t, (&TwistCommand{Linear: r3.Vector{Z: 1e-9}}).IsZero(), test.ShouldBeFalse)
	test.That(t, (&JointJogCommand{Velocities: []float64{0, 0}}).IsZero(), test.ShouldBeTrue)
	test.That(t, (&JointJogCommand{Velocities: []float64{0, 0.1}}).IsZero(), test.ShouldBeFalse)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	bad := cfg
	bad.PublishPeriod = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = cfg
	bad.HardStopSingularityThreshold = cfg.LowerSingularityThreshold
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = cfg
	bad.CommandInType = "furlongs"
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = cfg
	bad.MoveGroupName = ""
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}
