// Package driver runs the locomotion core as a single-threaded cooperative
// tick loop: inputs are read, the walk cycle advances, the pose composer
// runs, and posed tip positions are handed to the IK collaborator, in strict
// order, once per tick.
package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/posing"
	"github.com/openlegged/locomotion/spatialmath"
	"github.com/openlegged/locomotion/walk"
)

// OperatingMode is the top level mode of the tick loop.
type OperatingMode int

// Operating modes. The driver starts up through the transition sequencer,
// runs the walk cycle, and shuts down through the sequencer in reverse.
const (
	ModeStartup OperatingMode = iota
	ModeRunning
	ModeShutdown
	ModeStopped
)

// Inputs is everything the core reads at the top of one tick.
type Inputs struct {
	// LinearVelocity and AngularVelocity are the desired body velocities in
	// normalised units (magnitude at most 1).
	LinearVelocity  r3.Vector
	AngularVelocity float64

	Imu model.ImuData

	// TranslationVelocity and RotationVelocity drive manual posing.
	TranslationVelocity r3.Vector
	RotationVelocity    r3.Vector
	PoseResetMode       model.PoseResetMode

	// Shutdown requests the shutdown sequence.
	Shutdown bool
}

// InputSource supplies the per-tick inputs.
type InputSource interface {
	Read() Inputs
}

// Driver owns the tick loop and the engines it schedules.
type Driver struct {
	logger golog.Logger
	p      params.Parameters
	clock  clock.Clock

	mdl    model.Model
	walker *walk.Controller
	poser  *posing.Controller
	inputs InputSource

	mode OperatingMode
}

// New wires a driver from its engines. A nil clk uses the wall clock.
func New(
	logger golog.Logger,
	p params.Parameters,
	clk clock.Clock,
	mdl model.Model,
	walker *walk.Controller,
	poser *posing.Controller,
	inputs InputSource,
) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{
		logger: logger,
		p:      p,
		clock:  clk,
		mdl:    mdl,
		walker: walker,
		poser:  poser,
		inputs: inputs,
		mode:   ModeStartup,
	}
}

// Mode returns the current operating mode.
func (d *Driver) Mode() OperatingMode { return d.mode }

// BodyPose returns the composed body pose of the last tick, for
// visualisation.
func (d *Driver) BodyPose() spatialmath.Pose { return d.poser.CurrentPose() }

// Run executes the tick loop until the context is cancelled, the shutdown
// sequence completes, or an engine reports a fatal error.
func (d *Driver) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) * d.p.TimeDelta)
	ticker := d.clock.Ticker(period)
	defer ticker.Stop()

	for {
		if !goutils.SelectContextOrWaitChan(ctx, ticker.C) {
			return ctx.Err()
		}
		if err := d.Tick(); err != nil {
			d.logger.Errorw("fatal error in tick loop", "error", err)
			return err
		}
		if d.mode == ModeStopped {
			return nil
		}
	}
}

// Tick advances the whole core one step: inputs, walk, pose composition,
// stance update, IK.
func (d *Driver) Tick() error {
	in := d.inputs.Read()

	d.poser.SetImuData(in.Imu)
	d.poser.SetVelocityInputs(in.TranslationVelocity, in.RotationVelocity)
	d.poser.SetPoseResetMode(in.PoseResetMode)

	switch d.mode {
	case ModeStartup:
		progress, err := d.poser.ExecuteSequence(model.StartUp)
		if err != nil {
			return err
		}
		if progress == params.ProgressComplete {
			d.logger.Info("startup sequence complete")
			d.mode = ModeRunning
		}
		return nil

	case ModeRunning:
		if in.Shutdown {
			d.mode = ModeShutdown
			return nil
		}
		d.poser.CalculateDefaultPose()
		d.walker.Update(in.LinearVelocity, in.AngularVelocity)
		if err := d.poser.UpdateCurrentPose(d.walker.BodyHeight()); err != nil {
			return err
		}
		d.poser.UpdateStance()
		return d.applyIK()

	case ModeShutdown:
		progress, err := d.poser.ExecuteSequence(model.ShutDown)
		if err != nil {
			return err
		}
		if progress == params.ProgressComplete {
			d.logger.Info("shutdown sequence complete")
			d.mode = ModeStopped
		}
		return nil
	}
	return nil
}

// applyIK writes every leg's posed tip to the model and solves.
func (d *Driver) applyIK() error {
	var err error
	for i, leg := range d.mdl.Legs() {
		leg.SetDesiredTipPosition(d.poser.LegPoser(i).CurrentTipPosition())
		if _, ikErr := leg.ApplyIK(); ikErr != nil {
			err = multierr.Append(err, ikErr)
		}
	}
	return err
}
