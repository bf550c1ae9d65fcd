// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/export"
	"github.com/jeranaias/whisper/internal/model"
)

func (a *App) exportCommand() *cobra.Command {
	var (
		format       string
		outputDir    string
		openAfter    bool
		toStdout     bool
		noMetadata   bool
		noTimestamps bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a topic's conversation to json, markdown or yaml",
		Args:  cobra.NoArgs,
		Example: `  whisper export --topic two-sum --format markdown
  whisper export --topic two-sum --format json --stdout | jq .`,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			opts := export.DefaultOptions()
			opts.OutputDir = outputDir
			opts.OpenAfterExport = openAfter
			opts.IncludeMetadata = !noMetadata
			opts.IncludeTimestamps = !noTimestamps

			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return ErrUnsupportedFormat(format, export.Formats)
			}

			topic := a.resolveTopic("")
			svc, err := a.service(ctx, topic)
			if err != nil {
				return err
			}
			defer svc.Close()

			msgs := svc.Messages()
			if len(msgs) == 0 {
				return &NotFoundError{Resource: "conversation", ID: topic}
			}
			transcript := model.NewTranscript(topic, msgs)
			if keys, err := a.keyStore(); err == nil {
				transcript.Model = keys.Selection()
			}

			if toStdout {
				data, err := exporter.Export(transcript)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}

			path, err := export.ExportToFile(transcript, exporter, opts)
			if err != nil {
				return NewCommandError("export", "write", "could not write export file", err)
			}
			fmt.Fprintf(a.out, "%s Exported %d messages to %s\n", RenderStatus("ok"), len(msgs), path)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "markdown", "json, markdown or yaml")
	f.StringVarP(&outputDir, "output", "o", ".", "directory to write the file to")
	f.BoolVar(&openAfter, "open", false, "open the file after writing it")
	f.BoolVar(&toStdout, "stdout", false, "write to stdout instead of a file")
	f.BoolVar(&noMetadata, "no-metadata", false, "omit the metadata header")
	f.BoolVar(&noTimestamps, "no-timestamps", false, "omit per-message timestamps")
	return cmd
}
