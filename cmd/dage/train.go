// Copyright 2024 dage Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/config"
	"github.com/dage-io/dage/dataset"
	"github.com/dage-io/dage/model"
	"github.com/dage-io/dage/trainer"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a model on a source domain and a target domain.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			return errors.Trace(err)
		}
		if preset, _ := cmd.Flags().GetString("preset"); preset != "" {
			conf.Loss.Preset = preset
			if err = conf.Validate(); err != nil {
				return errors.Trace(err)
			}
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		savePath, _ := cmd.Flags().GetString("save")
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			go func() {
				log.Logger().Info("start metrics server", zap.String("address", addr))
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(addr, mux); err != nil {
					log.Logger().Error("failed to serve metrics", zap.Error(err))
				}
			}()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return train(ctx, conf, cmd.OutOrStdout(), trainOptions{Progress: !quiet, SavePath: savePath})
	},
}

func init() {
	trainCommand.Flags().String("preset", "", "override the loss preset")
	trainCommand.Flags().BoolP("quiet", "q", false, "hide the progress bar")
	trainCommand.Flags().String("save", "", "save the trained model to this path")
	trainCommand.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
}

type trainOptions struct {
	Progress bool
	SavePath string
}

func train(ctx context.Context, conf *config.Config, w io.Writer, opts trainOptions) error {
	runID := uuid.NewString()
	domains, err := conf.Dataset.LoadDomains(conf.Train.Seed)
	if err != nil {
		return errors.Trace(err)
	}
	m, err := conf.NewModel(domains.Source.Dim(), domains.Source.NumClasses())
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("create model",
		zap.String("run_id", runID),
		zap.String("type", conf.Model.Type),
		zap.String("params", m.GetParams().ToString()))

	fitConfig := conf.Train.GetFitConfig()
	if opts.Progress {
		steps := conf.Train.Epochs * fitConfig.StepsPerEpoch(domains.Train.Len())
		fitConfig.Tracker = newProgressTracker(steps)
	}
	var valid []*dataset.Batch
	if domains.Valid != nil {
		valid = domains.Valid.Batches(conf.Train.BatchSize)
	}
	history, err := trainer.Fit(ctx, m, domains.Train, valid, fitConfig)
	if err != nil {
		return errors.Trace(err)
	}
	if err = renderHistory(w, history); err != nil {
		return errors.Trace(err)
	}
	if domains.TargetValid.Count() > 0 {
		accuracy, err := trainer.EvaluateTarget(ctx, m, domains.TargetValid, conf.Train.BatchSize, conf.Train.NumJobs)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(w, "target accuracy: %.4f (%d samples)\n", accuracy, domains.TargetValid.Count())
	}
	if opts.SavePath != "" {
		if err = saveModel(opts.SavePath, m); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save model", zap.String("run_id", runID), zap.String("path", opts.SavePath))
	}
	return nil
}

func saveModel(path string, m model.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err = model.MarshalModel(f, m); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// progressTracker reports training steps on a progress bar.
type progressTracker struct {
	bar *progressbar.ProgressBar
}

func newProgressTracker(steps int) *progressTracker {
	return &progressTracker{bar: progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("train"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)}
}

func (t *progressTracker) Step() {
	_ = t.bar.Add(1)
}

func (t *progressTracker) Finish() {
	_ = t.bar.Finish()
}

func renderHistory(w io.Writer, history *trainer.History) error {
	table := tablewriter.NewWriter(w)
	table.Header("epoch", "fit time", "skipped", "loss", "aux loss", "acc (src)", "acc (tgt)",
		"val loss", "val acc (tgt)")
	for _, record := range history.Records {
		row := []string{
			strconv.Itoa(record.Epoch),
			record.FitTime.String(),
			strconv.Itoa(record.Skipped),
			formatFloat(record.Train.Loss),
			formatFloat(record.Train.Aux),
			formatFloat(record.Train.AccuracySource),
			formatFloat(record.Train.AccuracyTarget),
			"-",
			"-",
		}
		if record.Valid != nil {
			row[7] = formatFloat(record.Valid.Loss)
			row[8] = formatFloat(record.Valid.AccuracyTarget)
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 4, 32)
}
