package servo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	uatomic "go.uber.org/atomic"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/servoing/motion"
	"go.viam.com/servoing/spatial"
)

const (
	// Velocities at or below this magnitude are considered stopped.
	stoppedVelocityEps = 1e-4 // rad/s

	logThrottlePeriod = 3 * time.Second
)

type servoMode int

const (
	cartesianMode servoMode = iota
	jointMode
)

// Servo runs the servoing calculations on a dedicated worker goroutine.
// Commands, parameter changes, and service calls may arrive from arbitrary
// goroutines; they are staged through mutex-guarded latest-value cells and
// atomic flags, and the worker picks them up at the start of each cycle.
type Servo struct {
	cfg    Config
	kin    Kinematics
	state  StateSource
	pub    Publisher
	logger logging.Logger
	clock  clock.Clock

	numJoints  int
	jointNames []string
	jointIndex map[string]int
	limits     []motion.JointLimits
	period     time.Duration
	smoother   Smoother

	// mu guards the latest command cells, the dimension masks, the command
	// frame, and the transform cache. It is held briefly and never across
	// smoothing or IK.
	mu                sync.Mutex
	latestTwist       *TwistCommand
	latestTwistStamp  time.Time
	latestTwistIsZero bool
	latestJog         *JointJogCommand
	latestJogStamp    time.Time
	latestJogIsZero   bool
	driftDimensions   [6]bool
	controlDimensions [6]bool
	commandFrame      string
	tfPlanningToCmd   spatial.Transform
	tfPlanningToEE    spatial.Transform

	paused                 uatomic.Bool
	collisionVelocityScale uatomic.Float64
	status                 uatomic.Int32

	inputWake chan struct{}

	// Worker-owned state. Nothing below is touched off the worker goroutine
	// while the loop runs.
	originalState        JointState
	internalState        JointState
	deltaTheta           []float64
	lastSentCommand      *JointTrajectory
	waitForServoCommands bool
	doneStopping         bool
	updatedFilters       bool
	zeroVelocityCount    int

	throttleMu   sync.Mutex
	lastLogTimes map[string]time.Time

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	running                 bool
}

// NewServo wires up a servo engine for the joint group described by kin.
// It fails when the configured move group does not match the model, or when
// the configured smoothing filter cannot be found or initialized.
func NewServo(cfg Config, kin Kinematics, state StateSource, pub Publisher, logger logging.Logger) (*Servo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid servo config")
	}
	cfg = cfg.withDefaults()
	if kin == nil || state == nil || pub == nil {
		return nil, errors.New("kinematics, state source, and publisher are all required")
	}
	if kin.Name() != cfg.MoveGroupName {
		return nil, errors.Errorf("invalid move group name %q", cfg.MoveGroupName)
	}
	jointNames := kin.JointNames()
	numJoints := len(jointNames)
	if numJoints == 0 {
		return nil, errors.Errorf("group %q has no actuated joints", cfg.MoveGroupName)
	}
	limits := kin.Limits()
	if len(limits) != numJoints {
		return nil, errors.Errorf("group %q declares %d joints but %d limits", cfg.MoveGroupName, numJoints, len(limits))
	}

	smoother, err := newSmoother(cfg.SmoothingFilterPluginName, cfg)
	if err != nil {
		return nil, err
	}
	if err := smoother.Initialize(numJoints); err != nil {
		return nil, errors.Wrapf(err, "initializing smoothing filter %q", cfg.SmoothingFilterPluginName)
	}

	s := &Servo{
		cfg:        cfg,
		kin:        kin,
		state:      state,
		pub:        pub,
		logger:     logger,
		clock:      clock.New(),
		numJoints:  numJoints,
		jointNames: jointNames,
		jointIndex: make(map[string]int, numJoints),
		limits:     limits,
		period:     time.Duration(cfg.PublishPeriod * float64(time.Second)),
		smoother:   smoother,
		originalState: JointState{
			Names:      jointNames,
			Positions:  make([]float64, numJoints),
			Velocities: make([]float64, numJoints),
		},
		internalState: JointState{
			Names:      jointNames,
			Positions:  make([]float64, numJoints),
			Velocities: make([]float64, numJoints),
		},
		deltaTheta:   make([]float64, numJoints),
		inputWake:    make(chan struct{}, 1),
		lastLogTimes: make(map[string]time.Time),
		commandFrame: cfg.RobotLinkCommandFrame,
	}
	for i, name := range jointNames {
		s.jointIndex[name] = i
	}
	for i := range s.controlDimensions {
		s.controlDimensions[i] = true
	}
	s.collisionVelocityScale.Store(1)
	return s, nil
}

// Start launches the servo worker. If the worker is already running it is
// stopped and restarted from the current robot state.
func (s *Servo) Start() error {
	s.Stop()
	if err := s.initialize(); err != nil {
		return err
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	s.cancelCtx = cancelCtx
	s.cancel = cancel
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		s.mainLoop(cancelCtx)
	}, s.activeBackgroundWorkers.Done)
	s.running = true
	return nil
}

// initialize snapshots the robot state, seeds the last-sent command, and
// resets the loop state ahead of the first cycle.
func (s *Servo) initialize() error {
	s.updateJoints()

	// Set up the "last" published message in case the first cycle has to
	// republish it.
	initial := &JointTrajectory{
		FrameID:    s.cfg.PlanningFrame,
		JointNames: s.jointNames,
	}
	point := TrajectoryPoint{TimeFromStart: s.period}
	if s.cfg.PublishJointPositions {
		point.Positions = append([]float64(nil), s.originalState.Positions...)
	}
	if s.cfg.PublishJointVelocities {
		point.Velocities = make([]float64, s.numJoints)
	}
	if s.cfg.PublishJointAccelerations {
		// No known robot takes acceleration commands, but some controllers
		// check that the field is non-empty. Send zeros.
		point.Accelerations = make([]float64, s.numJoints)
	}
	initial.Points = append(initial.Points, point)
	s.lastSentCommand = initial

	if err := s.refreshTransformCache(); err != nil {
		return errors.Wrap(err, "computing initial frame transforms")
	}

	s.waitForServoCommands = true
	s.doneStopping = false
	s.zeroVelocityCount = 0
	select {
	case <-s.inputWake:
	default:
	}
	return nil
}

// Stop requests the worker to stop and waits for it. In-flight cycles run to
// completion; the worker returns at its next suspension point.
func (s *Servo) Stop() {
	if !s.running {
		return
	}
	s.cancel()
	s.activeBackgroundWorkers.Wait()
	s.running = false
}

// Close stops the worker.
func (s *Servo) Close() error {
	s.Stop()
	return nil
}

func (s *Servo) mainLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if s.cfg.LowLatencyMode {
			// Begin calculations as soon as a new command is received.
			select {
			case <-ctx.Done():
				return
			case <-s.inputWake:
			}
		}

		start := s.clock.Now()
		s.runIteration()
		elapsed := s.clock.Now().Sub(start)
		if elapsed > s.period {
			s.warnThrottled("iteration-overrun",
				"servo iteration took %v, longer than the publish period %v", elapsed, s.period)
		}

		if !s.cfg.LowLatencyMode {
			wait := s.period - elapsed
			if wait <= 0 {
				continue
			}
			timer := s.clock.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// runIteration performs one servo cycle: snapshot, compute, publish.
func (s *Servo) runIteration() {
	// Publish the status accumulated since the last cycle, then clear it.
	s.pub.PublishStatus(StatusCode(s.status.Swap(int32(StatusNoWarning))))

	s.updateJoints()

	var twistCmd TwistCommand
	var jogCmd JointJogCommand
	s.mu.Lock()
	if s.latestTwist != nil {
		twistCmd = *s.latestTwist
	}
	if s.latestJog != nil {
		jogCmd = *s.latestJog
	}
	now := s.clock.Now()
	timeout := time.Duration(s.cfg.IncomingCommandTimeout * float64(time.Second))
	twistStale := s.latestTwistStamp.IsZero() || now.Sub(s.latestTwistStamp) >= timeout
	jogStale := s.latestJogStamp.IsZero() || now.Sub(s.latestJogStamp) >= timeout
	haveNonzeroTwist := s.latestTwist != nil && !s.latestTwistIsZero
	haveNonzeroJog := s.latestJog != nil && !s.latestJogIsZero
	driftDims := s.driftDimensions
	controlDims := s.controlDimensions
	commandFrame := s.commandFrame
	s.mu.Unlock()

	// Keep the transform cache fresh even while idle so the accessor API and
	// the first active cycle see current values.
	if err := s.refreshTransformCache(); err != nil {
		s.warnThrottled("transform-refresh", "refreshing frame transforms: %v", err)
	}

	// Keep the smoothing filter seeded while idle so restarting does not jump.
	s.updatedFilters = false

	if s.waitForServoCommands || s.paused.Load() {
		s.resetSmoother(s.originalState.Positions)
		s.waitForServoCommands = twistCmd.Stamp.IsZero() && jogCmd.Stamp.IsZero()
		return
	}

	trajectory := &JointTrajectory{}

	// Cartesian servoing has priority over joint servoing. Only act on
	// commands that are fresh and nonzero.
	switch {
	case haveNonzeroTwist && !twistStale:
		if !s.cartesianServoPass(&twistCmd, trajectory, driftDims, controlDims, commandFrame) {
			s.resetSmoother(s.originalState.Positions)
			return
		}
	case haveNonzeroJog && !jogStale:
		if !s.jointServoPass(&jogCmd, trajectory) {
			s.resetSmoother(s.originalState.Positions)
			return
		}
	default:
		// Republish the last command with zeroed velocities.
		trajectory = s.lastSentCommand.Clone()
		for i := range trajectory.Points {
			for j := range trajectory.Points[i].Velocities {
				trajectory.Points[i].Velocities[j] = 0
			}
		}
	}

	if twistStale && jogStale {
		s.filteredHalt(trajectory)
	} else {
		s.doneStopping = false
	}

	// Once fully stopped, keep publishing halt messages for the configured
	// count, then go quiet. A count of zero publishes forever.
	okToPublish := true
	if s.doneStopping && s.cfg.NumOutgoingHaltMsgsToPublish != 0 &&
		s.zeroVelocityCount > s.cfg.NumOutgoingHaltMsgsToPublish {
		okToPublish = false
		s.debugThrottled("halt-suppress", "fully stopped, suppressing outgoing commands")
	}

	if s.doneStopping {
		if s.zeroVelocityCount < math.MaxInt {
			s.zeroVelocityCount++
		}
	} else {
		s.zeroVelocityCount = 0
	}

	if okToPublish && !s.paused.Load() {
		s.publish(trajectory)
	}

	if !s.updatedFilters {
		s.resetSmoother(s.originalState.Positions)
	}
}

func (s *Servo) publish(trajectory *JointTrajectory) {
	// Clear out fields the user did not ask for; stray position commands can
	// cause interpolation issues downstream.
	for i := range trajectory.Points {
		if !s.cfg.PublishJointPositions {
			trajectory.Points[i].Positions = nil
		}
		if !s.cfg.PublishJointVelocities {
			trajectory.Points[i].Velocities = nil
		}
		if !s.cfg.PublishJointAccelerations {
			trajectory.Points[i].Accelerations = nil
		}
	}

	// A zero stamp tells the downstream controller to begin immediately.
	trajectory.Stamp = time.Time{}
	s.lastSentCommand = trajectory.Clone()

	switch s.cfg.CommandOutType {
	case CommandOutTrajectory:
		s.pub.PublishTrajectory(trajectory)
	case CommandOutMultiarray:
		if len(trajectory.Points) == 0 {
			return
		}
		switch {
		case s.cfg.PublishJointPositions:
			s.pub.PublishFloats(append([]float64(nil), trajectory.Points[0].Positions...))
		case s.cfg.PublishJointVelocities:
			s.pub.PublishFloats(append([]float64(nil), trajectory.Points[0].Velocities...))
		}
	}
}

// updateJoints refreshes the joint snapshot from the state monitor.
func (s *Servo) updateJoints() {
	state := s.state.CurrentJointState()
	if len(state.Positions) != s.numJoints || len(state.Velocities) != s.numJoints {
		s.warnThrottled("state-size",
			"state monitor returned %d positions and %d velocities for a %d joint group",
			len(state.Positions), len(state.Velocities), s.numJoints)
		return
	}
	copy(s.originalState.Positions, state.Positions)
	copy(s.originalState.Velocities, state.Velocities)
}

func (s *Servo) refreshTransformCache() error {
	tfCmd, err := s.lookupTransform(s.commandFrameLocked())
	if err != nil {
		return err
	}
	tfEE, err := s.lookupTransform(s.cfg.EEFrameName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tfPlanningToCmd = *tfCmd
	s.tfPlanningToEE = *tfEE
	s.mu.Unlock()
	return nil
}

func (s *Servo) commandFrameLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandFrame
}

// lookupTransform solves planning->frame as (base->planning)^-1 * (base->frame)
// at the current joint positions.
func (s *Servo) lookupTransform(frame string) (*spatial.Transform, error) {
	basePlanning, err := s.kin.GlobalLinkTransform(s.cfg.PlanningFrame, s.originalState.Positions)
	if err != nil {
		return nil, err
	}
	baseFrame, err := s.kin.GlobalLinkTransform(frame, s.originalState.Positions)
	if err != nil {
		return nil, err
	}
	return basePlanning.Invert().Compose(baseFrame), nil
}

func (s *Servo) cartesianServoPass(
	cmd *TwistCommand,
	trajectory *JointTrajectory,
	driftDims, controlDims [6]bool,
	commandFrame string,
) bool {
	if err := checkValidTwist(cmd, s.cfg.CommandInType); err != nil {
		s.warnThrottled("invalid-twist", "skipping twist command: %v", err)
		return false
	}

	enforceControlDimensions(cmd, controlDims)

	if cmd.FrameID != s.cfg.PlanningFrame {
		if err := s.transformTwistToPlanningFrame(cmd, commandFrame); err != nil {
			s.warnThrottled("twist-transform", "transforming twist command: %v", err)
			return false
		}
	}

	deltaX := scaleCartesianCommand(cmd, s.cfg)

	jacobian, err := s.kin.Jacobian(s.originalState.Positions)
	if err != nil {
		s.warnThrottled("jacobian", "computing jacobian: %v", err)
		return false
	}
	jacobian, deltaX = removeDriftDimensions(jacobian, deltaX, driftDims)

	pinv, u, values, err := pseudoInverse(jacobian)
	if err != nil {
		s.warnThrottled("svd", "inverting jacobian: %v", err)
		return false
	}

	theta := mat.NewVecDense(s.numJoints, nil)
	theta.MulVec(pinv, mat.NewVecDense(len(deltaX), deltaX))

	scale, err := s.velocityScaleForSingularity(deltaX, u, values, pinv, s.originalState.Positions)
	if err != nil {
		s.warnThrottled("singularity-check", "checking singularity proximity: %v", err)
		return false
	}
	for i := 0; i < s.numJoints; i++ {
		s.deltaTheta[i] = theta.AtVec(i) * scale
	}

	return s.internalServoUpdate(trajectory, cartesianMode)
}

func (s *Servo) jointServoPass(cmd *JointJogCommand, trajectory *JointTrajectory) bool {
	if err := checkValidJog(cmd); err != nil {
		s.warnThrottled("invalid-jog", "skipping joint jog command: %v", err)
		return false
	}
	copy(s.deltaTheta, s.scaleJointCommand(cmd))
	return s.internalServoUpdate(trajectory, jointMode)
}

// transformTwistToPlanningFrame rotates the twist into the planning frame.
// Only the rotation is applied; a pure twist never translates.
func (s *Servo) transformTwistToPlanningFrame(cmd *TwistCommand, commandFrame string) error {
	var tf *spatial.Transform
	switch {
	case cmd.FrameID == "" || cmd.FrameID == commandFrame:
		s.mu.Lock()
		tf = s.tfPlanningToCmd.Clone()
		s.mu.Unlock()
	case cmd.FrameID == s.cfg.EEFrameName:
		s.mu.Lock()
		tf = s.tfPlanningToEE.Clone()
		s.mu.Unlock()
	default:
		var err error
		tf, err = s.lookupTransform(cmd.FrameID)
		if err != nil {
			return err
		}
	}
	if tf.IsZero() {
		return errors.Errorf("transform from %q to the planning frame is not yet known", cmd.FrameID)
	}
	cmd.Linear = tf.RotateVector(cmd.Linear)
	cmd.Angular = tf.RotateVector(cmd.Angular)
	cmd.FrameID = s.cfg.PlanningFrame
	return nil
}

func enforceControlDimensions(cmd *TwistCommand, control [6]bool) {
	if !control[0] {
		cmd.Linear.X = 0
	}
	if !control[1] {
		cmd.Linear.Y = 0
	}
	if !control[2] {
		cmd.Linear.Z = 0
	}
	if !control[3] {
		cmd.Angular.X = 0
	}
	if !control[4] {
		cmd.Angular.Y = 0
	}
	if !control[5] {
		cmd.Angular.Z = 0
	}
}

// internalServoUpdate integrates deltaTheta into the joint state, applies
// smoothing and limit enforcement, and composes the outgoing trajectory.
func (s *Servo) internalServoUpdate(trajectory *JointTrajectory, mode servoMode) bool {
	copy(s.internalState.Positions, s.originalState.Positions)
	copy(s.internalState.Velocities, s.originalState.Velocities)

	collisionScale := s.collisionVelocityScale.Load()
	switch {
	case collisionScale == 0:
		s.setStatus(StatusHaltForCollision)
		s.errorThrottled("collision-halt", "halting for collision")
	case collisionScale < 1:
		s.setStatus(StatusDecelerateForCollision)
		s.warnThrottled("collision-decel", "%s", StatusDecelerateForCollision)
	}
	floats.Scale(collisionScale, s.deltaTheta)

	if !s.applyJointUpdate() {
		return false
	}
	s.updatedFilters = true

	// Uniform scaling keeps the direction of motion while bringing every
	// joint under its velocity bound.
	realized := make([]float64, s.numJoints)
	for i := range realized {
		realized[i] = s.internalState.Positions[i] - s.originalState.Positions[i]
	}
	if scale := motion.VelocityLimitScale(s.limits, realized, s.cfg.PublishPeriod); scale < 1 {
		for i := range realized {
			s.internalState.Positions[i] = s.originalState.Positions[i] + realized[i]*scale
			s.internalState.Velocities[i] *= scale
		}
	}

	if haltJoints := s.enforcePositionLimits(); len(haltJoints) > 0 {
		s.setStatus(StatusJointBound)
		names := make([]string, 0, len(haltJoints))
		for _, idx := range haltJoints {
			names = append(names, s.jointNames[idx])
		}
		s.warnThrottled("joint-bound", "%v close to a position limit, halting", names)

		haltOnlyCandidates := (mode == jointMode && !s.cfg.HaltAllJointsInJointMode) ||
			(mode == cartesianMode && !s.cfg.HaltAllJointsInCartesianMode)
		if !haltOnlyCandidates {
			haltJoints = haltJoints[:0]
			for i := 0; i < s.numJoints; i++ {
				haltJoints = append(haltJoints, i)
			}
		}
		s.suddenHalt(haltJoints)
	}

	// A collision halt must put the robot exactly where it was with exactly
	// zero velocity; the smoothing filter's residual motion is not allowed
	// through.
	if collisionScale == 0 {
		all := make([]int, s.numJoints)
		for i := range all {
			all[i] = i
		}
		s.suddenHalt(all)
	}

	s.composeTrajectory(trajectory)
	return true
}

// applyJointUpdate integrates the deltas, smooths the resulting positions in
// place, and recomputes velocities from the smoothed positions.
func (s *Servo) applyJointUpdate() bool {
	if len(s.internalState.Positions) != len(s.deltaTheta) ||
		len(s.internalState.Velocities) != len(s.internalState.Positions) {
		s.errorThrottled("delta-size", "lengths of output and increments do not match")
		return false
	}
	for i := range s.internalState.Positions {
		s.internalState.Positions[i] += s.deltaTheta[i]
	}
	s.smoother.DoSmoothing(s.internalState.Positions)
	for i := range s.internalState.Velocities {
		s.internalState.Velocities[i] =
			(s.internalState.Positions[i] - s.originalState.Positions[i]) / s.cfg.PublishPeriod
	}
	return true
}

// enforcePositionLimits returns the joints that sit within the configured
// margin of a position bound while their pending velocity pushes them further
// toward it. Joints without declared bounds are skipped.
func (s *Servo) enforcePositionLimits() []int {
	var haltJoints []int
	margin := s.cfg.JointLimitMargin
	for i, lim := range s.limits {
		if !lim.PositionBounded() {
			continue
		}
		position := s.internalState.Positions[i]
		velocity := s.internalState.Velocities[i]
		if (velocity < 0 && position < lim.Position.Min+margin) ||
			(velocity > 0 && position > lim.Position.Max-margin) {
			haltJoints = append(haltJoints, i)
		}
	}
	return haltJoints
}

// suddenHalt resets the given joints to the pre-update snapshot with zero
// velocity.
func (s *Servo) suddenHalt(haltJoints []int) {
	for _, idx := range haltJoints {
		s.internalState.Positions[idx] = s.originalState.Positions[idx]
		s.internalState.Velocities[idx] = 0
	}
}

func (s *Servo) composeTrajectory(trajectory *JointTrajectory) {
	trajectory.FrameID = s.cfg.PlanningFrame
	trajectory.JointNames = s.jointNames
	trajectory.Stamp = time.Time{}

	point := TrajectoryPoint{TimeFromStart: s.period}
	if s.cfg.PublishJointPositions {
		point.Positions = append([]float64(nil), s.internalState.Positions...)
	}
	if s.cfg.PublishJointVelocities {
		point.Velocities = append([]float64(nil), s.internalState.Velocities...)
	}
	if s.cfg.PublishJointAccelerations {
		point.Accelerations = make([]float64, s.numJoints)
	}
	trajectory.Points = append(trajectory.Points[:0], point)

	if s.cfg.RedundantPointCount > 1 {
		insertRedundantPoints(trajectory, s.cfg.RedundantPointCount, s.period)
	}
}

// insertRedundantPoints pads the trajectory with copies of its single point at
// successive multiples of the publish period. Controllers that stamp-check may
// skip the first points if they arrive late.
func insertRedundantPoints(trajectory *JointTrajectory, count int, period time.Duration) {
	if len(trajectory.Points) == 0 {
		return
	}
	base := trajectory.Points[0]
	for i := 1; i < count; i++ {
		point := TrajectoryPoint{
			Positions:     append([]float64(nil), base.Positions...),
			Velocities:    append([]float64(nil), base.Velocities...),
			Accelerations: append([]float64(nil), base.Accelerations...),
			TimeFromStart: time.Duration(i+1) * period,
		}
		trajectory.Points = append(trajectory.Points, point)
	}
}

// filteredHalt rewrites the trajectory into a single decelerating point: the
// pre-update positions run through the smoothing filter, with velocities
// derived from the smoothed positions. Once every joint is essentially
// stopped, velocities are snapped to exactly zero and stopping is complete.
func (s *Servo) filteredHalt(trajectory *JointTrajectory) {
	trajectory.FrameID = s.cfg.PlanningFrame
	trajectory.JointNames = s.jointNames
	trajectory.Stamp = time.Time{}

	point := TrajectoryPoint{TimeFromStart: s.period}
	point.Positions = append([]float64(nil), s.originalState.Positions...)
	s.smoother.DoSmoothing(point.Positions)
	s.updatedFilters = true

	velocities := make([]float64, s.numJoints)
	done := true
	for i := range velocities {
		velocities[i] = (point.Positions[i] - s.originalState.Positions[i]) / s.cfg.PublishPeriod
		if math.Abs(velocities[i]) > stoppedVelocityEps {
			done = false
		}
	}
	if done {
		for i := range velocities {
			velocities[i] = 0
		}
	}
	s.doneStopping = done

	if s.cfg.PublishJointVelocities {
		point.Velocities = velocities
	}
	if s.cfg.PublishJointAccelerations {
		point.Accelerations = make([]float64, s.numJoints)
		for i := range point.Accelerations {
			point.Accelerations[i] = (velocities[i] - s.originalState.Velocities[i]) / s.cfg.PublishPeriod
		}
	}

	trajectory.Points = append(trajectory.Points[:0], point)
}

func (s *Servo) resetSmoother(positions []float64) {
	s.smoother.Reset(positions)
	s.updatedFilters = true
}

func (s *Servo) setStatus(code StatusCode) {
	s.status.Store(int32(code))
}

// Status returns the code accumulated since the last publication.
func (s *Servo) Status() StatusCode {
	return StatusCode(s.status.Load())
}

// ResetStatus clears the status, e.g. so the arm can move again after a
// collision stop.
func (s *Servo) ResetStatus() {
	s.status.Store(int32(StatusNoWarning))
}

// SetPaused pauses or resumes the outgoing command stream. While paused the
// engine keeps its smoothing filters tracking the current joint state.
func (s *Servo) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// SetCollisionVelocityScale feeds the externally computed collision proximity
// scale in [0, 1]. Zero halts; values in (0, 1) decelerate.
func (s *Servo) SetCollisionVelocityScale(scale float64) {
	s.collisionVelocityScale.Store(math.Max(0, math.Min(1, scale)))
}

// SetTwist stages a Cartesian velocity command. A zero stamp is stored but
// never advances command freshness.
func (s *Servo) SetTwist(cmd TwistCommand) {
	s.mu.Lock()
	stored := cmd
	s.latestTwist = &stored
	s.latestTwistIsZero = cmd.IsZero()
	if !cmd.Stamp.IsZero() {
		s.latestTwistStamp = cmd.Stamp
	}
	s.mu.Unlock()
	s.wakeLoop()
}

// SetJointJog stages a joint-space velocity command.
func (s *Servo) SetJointJog(cmd JointJogCommand) {
	stored := JointJogCommand{
		Stamp:      cmd.Stamp,
		JointNames: append([]string(nil), cmd.JointNames...),
		Velocities: append([]float64(nil), cmd.Velocities...),
	}
	s.mu.Lock()
	s.latestJog = &stored
	s.latestJogIsZero = stored.IsZero()
	if !cmd.Stamp.IsZero() {
		s.latestJogStamp = cmd.Stamp
	}
	s.mu.Unlock()
	s.wakeLoop()
}

// SetDriftDimensions marks Cartesian axes whose error is tolerated; their
// Jacobian rows are dropped before inversion.
func (s *Servo) SetDriftDimensions(dims [6]bool) {
	s.mu.Lock()
	s.driftDimensions = dims
	s.mu.Unlock()
}

// SetControlDimensions marks which Cartesian axes of incoming twists are
// acted on; the rest are zeroed.
func (s *Servo) SetControlDimensions(dims [6]bool) {
	s.mu.Lock()
	s.controlDimensions = dims
	s.mu.Unlock()
}

// SetCommandFrame changes the frame incoming twists default to.
func (s *Servo) SetCommandFrame(frame string) {
	s.mu.Lock()
	s.commandFrame = frame
	s.mu.Unlock()
	s.logger.Infof("robot link command frame changed to %q", frame)
}

// CommandFrameTransform returns the cached planning->command-frame transform.
// The second return is false until the cache has been populated.
func (s *Servo) CommandFrameTransform() (*spatial.Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tfPlanningToCmd.IsZero() {
		return nil, false
	}
	return s.tfPlanningToCmd.Clone(), true
}

// EEFrameTransform returns the cached planning->end-effector transform.
// The second return is false until the cache has been populated.
func (s *Servo) EEFrameTransform() (*spatial.Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tfPlanningToEE.IsZero() {
		return nil, false
	}
	return s.tfPlanningToEE.Clone(), true
}

func (s *Servo) wakeLoop() {
	select {
	case s.inputWake <- struct{}{}:
	default:
	}
}

func (s *Servo) warnThrottled(key, format string, args ...interface{}) {
	if s.shouldLog(key) {
		s.logger.Warnf(format, args...)
	}
}

func (s *Servo) errorThrottled(key, format string, args ...interface{}) {
	if s.shouldLog(key) {
		s.logger.Errorf(format, args...)
	}
}

func (s *Servo) debugThrottled(key, format string, args ...interface{}) {
	if s.shouldLog(key) {
		s.logger.Debugf(format, args...)
	}
}

func (s *Servo) shouldLog(key string) bool {
	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()
	now := s.clock.Now()
	if last, ok := s.lastLogTimes[key]; ok && now.Sub(last) < logThrottlePeriod {
		return false
	}
	s.lastLogTimes[key] = now
	return true
}
