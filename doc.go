// Package hpo provides persisted hyperparameter optimisation studies for a
// model training hub. A study is a named, ordered sequence of trials stored
// under the hub root; it can be interrupted at any trial boundary and resumed
// later, by the same or another process.
//
// # Features
//
// The package includes the following key features:
//
//   - Several samplers: random search, grid search, Tree-structured Parzen
//     Estimator (TPE), and Bayesian optimisation with a Gaussian process
//   - Pruners stopping unpromising trials early: median, successive halving
//     and hyperband
//   - Persistence: every finished trial is committed to a sqlite store at
//     {hub_root}/{name}/{name}.db, with a single writer per store
//   - Deterministic results: the best trial is picked by score, ties going to
//     the lowest trial number
//   - Progress Monitoring: updates after every trial via channels
//   - Metrics: Prometheus counters and histograms per study
//
// # Methods
//
// The method selects the sampler and the default pruner:
//
//   - RANDOMSAMPLER: random sampler, median pruner
//   - GRIDSAMPLER: grid sampler, no pruner (median allowed)
//   - TPESAMPLER: TPE sampler, median pruner
//   - BOHB: TPE sampler, hyperband pruner (the only one allowed)
//   - GPSAMPLER: Gaussian process sampler, median pruner
//
// Incompatible combinations fail with ErrConfiguration when the study is
// built, before anything is persisted.
//
// # Usage
//
//	study, err := hpo.New(hubRoot, enum.TPESampler)
//	if err != nil {
//	    return err
//	}
//	defer study.Close()
//
//	if err := study.SetName("t1"); err != nil {
//	    return err
//	}
//
//	space := hpo.SearchSpace{
//	    "lr":  hpo.Range(0.001, 0.1),
//	    "opt": hpo.Choices("adam", "sgd"),
//	}
//
//	if err := study.Create(ctx, hpo.Maximize, space, hpo.Resume()); err != nil {
//	    return err
//	}
//
//	if err := study.Optimize(ctx, objective, dataset, 50, nil, nil); err != nil {
//	    return err
//	}
//
//	result, err := study.Summarize()
//
// # Acquisition Functions
//
// The GP sampler supports four acquisition functions, selected with
// MethodConfig.Acquisition:
//
//   - UCB (default): balances exploration and exploitation, controlled by Beta
//   - PI: conservative, focuses on small, reliable improvements (Xi)
//   - EI: balances improvement probability and magnitude (Xi)
//   - THOMPSON: samples the posterior
//
// # Thread Safety
//
// Study methods are guarded by a mutex. Trials always run one at a time; the
// objective must not call back into its Study.
package hpo
