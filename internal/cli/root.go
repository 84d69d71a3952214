// Package cli implements the hpo command line.
package cli

import (
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	hubRoot string
	verbose bool
}

func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "hpo",
		Short:        "Create and inspect hyperparameter optimization studies",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&o.hubRoot, "hub-root", ".", "directory holding the study stores")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "log debug output")
	root.AddCommand(newCreateCmd(o))
	root.AddCommand(newShowCmd(o))
	root.AddCommand(newTrialsCmd(o))
	root.AddCommand(newExportCmd(o))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newMethodsCmd())
	return root
}

// logger writes console logs to w, warnings only unless verbose is set.
func (o *options) logger(w io.Writer) logr.Logger {
	level := zapcore.WarnLevel
	if o.verbose {
		level = zapcore.DebugLevel
	}
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zapr.NewLogger(zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level)))
}
