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
	"os"
	"os/signal"
	"strconv"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/dage-io/dage/base/encoding"
	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/config"
	"github.com/dage-io/dage/losses"
	"github.com/dage-io/dage/model"
	"github.com/dage-io/dage/trainer"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search loss presets and hyper-parameters of a two-stream model.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			return errors.Trace(err)
		}
		trials, _ := cmd.Flags().GetInt("trials")
		presets, _ := cmd.Flags().GetStringSlice("presets")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return tune(ctx, conf, presets, trials, cmd.OutOrStdout())
	},
}

func init() {
	tuneCommand.Flags().Int("trials", 10, "number of trials")
	tuneCommand.Flags().StringSlice("presets", nil, "loss presets to search (default all)")
}

func tune(ctx context.Context, conf *config.Config, presets []string, trials int, w io.Writer) error {
	if conf.Model.Type != config.ModelTwoStream {
		return errors.NotValidf("model type %q for tuning", conf.Model.Type)
	}
	if trials <= 0 {
		return errors.NotValidf("%d trials", trials)
	}
	if len(presets) == 0 {
		presets = lo.Keys(losses.Presets)
	}
	for _, preset := range presets {
		if _, err := losses.Preset(preset); err != nil {
			return errors.Trace(err)
		}
	}
	domains, err := conf.Dataset.LoadDomains(conf.Train.Seed)
	if err != nil {
		return errors.Trace(err)
	}
	if domains.Valid == nil {
		return errors.NotValidf("empty validation pairs")
	}
	inputDim, numClasses := domains.Source.Dim(), domains.Source.NumClasses()
	create := func(preset string, params model.Params) (model.Model, error) {
		c := *conf
		c.Loss = config.LossConfig{Preset: preset}
		m, err := c.NewModel(inputDim, numClasses)
		if err != nil {
			return nil, errors.Trace(err)
		}
		m.SetParams(m.GetParams().Overwrite(params))
		return m, nil
	}

	search := trainer.NewModelSearch(ctx, create, presets, domains.Train,
		domains.Valid.Batches(conf.Train.BatchSize), conf.Train.GetFitConfig())
	study, err := goptuna.CreateStudy("dage",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(conf.Train.Seed))))
	if err != nil {
		return errors.Trace(err)
	}
	if err = study.Optimize(search.Objective, trials); err != nil {
		return errors.Trace(err)
	}
	if best, ok := search.Best(); ok {
		log.Logger().Info("tune complete",
			zap.String("preset", best.Preset),
			zap.String("params", best.Params.ToString()),
			zap.Float32("learning_rate", best.LearningRate),
			zap.Float32("preds_acc", best.Score.AccuracyTarget))
	}
	return renderTrials(w, search.Trials())
}

func renderTrials(w io.Writer, trials []trainer.Trial) error {
	table := tablewriter.NewWriter(w)
	table.Header("trial", "preset", "alpha", "even weights", "learning rate", "val loss", "val acc (tgt)")
	for i, trial := range trials {
		if err := table.Append([]string{
			strconv.Itoa(i + 1),
			trial.Preset,
			encoding.FormatFloat32(trial.Params.GetFloat32(model.Alpha, 0)),
			fmt.Sprint(trial.Params.GetBool(model.EvenWeights, false)),
			encoding.FormatFloat32(trial.LearningRate),
			formatFloat(trial.Score.Loss),
			formatFloat(trial.Score.AccuracyTarget),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
