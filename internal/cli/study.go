package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/enum"
	"github.com/thalesfsp/hpo/internal/config"
)

// open loads the named study for reading.
func (o *options) open(cmd *cobra.Command, name string) (*hpo.Study, error) {
	s, err := hpo.New(o.hubRoot, enum.TPESampler, hpo.WithLogger(o.logger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, err
	}
	if err := s.Load(cmd.Context(), name); err != nil {
		return nil, err
	}
	return s, nil
}

func newCreateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create <config.yaml>",
		Short: "Create a study from a config file",
		Long:  "Create the study described by a config file, or resume it when the config sets study.resume and the study already exists.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			hubRoot := cfg.HubRoot
			if cmd.Flags().Changed("hub-root") {
				hubRoot = o.hubRoot
			}
			direction, err := cfg.Direction()
			if err != nil {
				return err
			}
			space, err := cfg.Space()
			if err != nil {
				return err
			}

			s, err := hpo.New(hubRoot, enum.HPOMethod(cfg.Study.Method),
				hpo.WithLogger(o.logger(cmd.ErrOrStderr())),
				hpo.WithMethodConfig(cfg.Study.MethodConfig),
			)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.SetName(cfg.Study.Name); err != nil {
				return err
			}
			var opts []hpo.CreateOption
			if cfg.Study.Resume {
				opts = append(opts, hpo.Resume())
			}
			if err := s.Create(cmd.Context(), direction, space, opts...); err != nil {
				return err
			}

			verb := "created"
			if s.State() == hpo.StateLoaded {
				verb = "resumed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s study %s (%s, %s, %d trials) at %s\n",
				verb, s.Name(), cfg.Study.Method, direction, len(s.Trials()), hpo.StoragePath(hubRoot, s.Name()))
			return nil
		},
	}
}

func newShowCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <study>",
		Short: "Print the summary of a study as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.Summary()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(summary); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newTrialsCmd(o *options) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "trials <study>",
		Short: "List the trials of a study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			space := s.Space()
			names := space.Names()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprint(w, "NUMBER\tSTATE\tVALUE\tDURATION")
			for _, name := range names {
				fmt.Fprintf(w, "\t%s", name)
			}
			fmt.Fprintln(w)

			for _, t := range s.Trials() {
				if state != "" && !enum.Matches(t.State, state) {
					continue
				}
				value := "-"
				if t.HasValue {
					value = strconv.FormatFloat(t.Value, 'g', 6, 64)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s", t.Number, t.State, value, t.Duration.Round(time.Millisecond))
				for _, name := range names {
					v, ok := t.Params[name]
					if !ok {
						fmt.Fprint(w, "\t-")
						continue
					}
					fmt.Fprintf(w, "\t%v", v)
				}
				fmt.Fprintln(w)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only list trials in this state (COMPLETE, PRUNED, FAILED)")
	return cmd
}

func newExportCmd(o *options) *cobra.Command {
	var stdout bool
	cmd := &cobra.Command{
		Use:   "export <study>",
		Short: "Write trials.csv and summary.yaml next to the study store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if stdout {
				return hpo.ExportTrials(cmd.OutOrStdout(), s.Trials())
			}
			paths, err := s.ExportArtifacts()
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the trials CSV to stdout instead")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Check a study config without touching storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			space, _ := cfg.Space()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: study %s, method %s, %d trials over %d parameters\n",
				cfg.Study.Name, cfg.Study.Method, cfg.Trials(), len(space))
			return nil
		},
	}
}

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the search methods and their default pruners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "METHOD\tPRUNER\tSTARTUP_TRIALS")
			for _, m := range enum.HPOMethods.Members() {
				cfg := hpo.DefaultMethodConfig(m)
				fmt.Fprintf(w, "%s\t%s\t%d\n", m, cfg.Pruner, cfg.StartupTrials)
			}
			return w.Flush()
		},
	}
}
