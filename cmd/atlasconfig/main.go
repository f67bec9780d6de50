// Package main contains a command to inspect a tracking configuration.
package main

import (
	"context"
	"fmt"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/atlas-sensing/atlas/config"
)

var logger = golog.NewDevelopmentLogger("atlasconfig")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=path to the tracking configuration"`
	Validate   bool   `flag:"validate,usage=check the model for unusable values"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.ConfigFile == "" {
		return errors.New("no configuration file given")
	}

	cfg, err := config.ReadFile(argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if argsParsed.Validate {
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "configuration is not usable")
		}
		logger.Info("configuration is valid")
	}

	fmt.Print(cfg.String())
	return nil
}
