// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelplay/internal/app/bootstrap"
	netx "github.com/ManuGH/reelplay/internal/platform/net"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/source"
)

func newEpisodeCommand(ctx *commandContext) *cobra.Command {
	var (
		lang    string
		refresh bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "episode <series-code> <number>",
		Short: "Fetch an episode descriptor from the upstream API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd.Context(), func(st *bootstrap.Stack) error {
				key, err := episodeKey(args, lang, st.Config.Source.DefaultLang)
				if err != nil {
					return err
				}
				fetch := st.Source.Episode
				if refresh {
					fetch = st.Source.Refresh
				}
				ep, err := fetch(cmd.Context(), key)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, ep)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s  %q (%d of %d)\n", ep.Key(), ep.Name, ep.Number, ep.Total)
				for _, opt := range quality.Options(ep.Variants) {
					if opt.Tier == quality.Auto {
						continue
					}
					url := ep.Variants.URL(opt.Tier)
					if url == "" {
						url = "-"
					} else {
						url = netx.SanitizeURL(url)
					}
					fmt.Fprintf(w, "  %-6s %s\n", opt.Label, url)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Language (default source.defaultLang)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the descriptor cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func episodeKey(args []string, lang, fallback string) (source.Key, error) {
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return source.Key{}, fmt.Errorf("episode number %q: %w", args[1], err)
	}
	if lang == "" {
		lang = fallback
	}
	key := source.Key{SeriesCode: args[0], Lang: lang, Number: n}
	if err := key.Validate(); err != nil {
		return source.Key{}, err
	}
	return key, nil
}
