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
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/cmd/version"
	"github.com/dage-io/dage/losses"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "dage",
	Short: "Domain adaptation with graph embedding.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print build information.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
	},
}

var presetsCommand = &cobra.Command{
	Use:   "presets",
	Short: "List predefined loss configurations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderPresets(cmd.OutOrStdout())
	},
}

func renderPresets(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("preset", "connection", "weight", "filter", "penalty filter")
	names := lo.Keys(losses.Presets)
	slices.Sort(names)
	for _, name := range names {
		preset := losses.Presets[name]
		if err := table.Append([]string{
			name,
			preset.Connection.String(),
			preset.Weight.String(),
			filterString(preset.Filter, preset.FilterParam),
			filterString(preset.PenaltyFilter, preset.PenaltyFilterParam),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func filterString(filter losses.FilterType, param float64) string {
	if filter == losses.FilterAll {
		return filter.String()
	}
	return fmt.Sprintf("%v(%s)", filter, strconv.FormatFloat(param, 'g', -1, 64))
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(trainCommand, tuneCommand, versionCommand, presetsCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Error("failed to execute", zap.Error(err))
		os.Exit(1)
	}
}
