// Package main runs the locomotion controller against the fake hexapod
// model, for bring-up and profiling without hardware.
package main

import (
	"context"
	"flag"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"github.com/openlegged/locomotion/driver"
	"github.com/openlegged/locomotion/gait"
	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/model/fake"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/posing"
	"github.com/openlegged/locomotion/walk"
)

var logger = golog.NewDevelopmentLogger("locomotiond")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// constantInputs walks the robot forward at half speed.
type constantInputs struct{}

func (constantInputs) Read() driver.Inputs {
	return driver.Inputs{
		LinearVelocity: r3.Vector{X: 0.5},
		Imu:            model.NewImuData(),
	}
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("locomotiond", flag.ContinueOnError)
	paramFile := flags.String("params", "", "path to a JSON parameter file")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	p := params.Default()
	if *paramFile != "" {
		var err error
		if p, err = params.Read(*paramFile); err != nil {
			return err
		}
	}

	mdl := fake.NewHexapod(0.15)
	walker, err := walk.NewController(logger, p, gait.FromParameters(&p), mdl)
	if err != nil {
		return err
	}
	poser := posing.NewController(logger, p, mdl, walker)

	d := driver.New(logger, p, nil, mdl, walker, poser, constantInputs{})
	return d.Run(ctx)
}
