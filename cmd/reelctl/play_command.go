// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelplay/internal/app/bootstrap"
	"github.com/ManuGH/reelplay/internal/headless"
	"github.com/ManuGH/reelplay/internal/playback"
	"github.com/ManuGH/reelplay/internal/quality"
	"github.com/ManuGH/reelplay/internal/source"
)

type playOptions struct {
	Tier       quality.Tier
	Continue   bool
	Realtime   bool
	StallAfter time.Duration
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var (
		lang     string
		tierText string
		out      string
		cont     bool
		realtime bool
	)

	cmd := &cobra.Command{
		Use:   "play <series-code> <number>",
		Short: "Play an episode headlessly, writing decrypted media to --out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd.Context(), func(st *bootstrap.Stack) error {
				key, err := episodeKey(args, lang, st.Config.Source.DefaultLang)
				if err != nil {
					return err
				}
				if tierText == "" {
					tierText = st.Config.Playback.DefaultTier
				}
				tier, err := quality.ParseTier(tierText)
				if err != nil {
					return err
				}

				media := io.Discard
				switch out {
				case "":
				case "-":
					media = cmd.OutOrStdout()
				default:
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					media = f
				}

				return runPlay(cmd.Context(), st, key, media, cmd.ErrOrStderr(), playOptions{
					Tier:       tier,
					Continue:   cont,
					Realtime:   realtime,
					StallAfter: st.Config.Playback.StallTimeout / 2,
				})
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Language (default source.defaultLang)")
	cmd.Flags().StringVar(&tierText, "tier", "", "Quality tier: auto, 480, 720, 1080 (default playback.defaultTier)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Media output file, - for stdout (default discard)")
	cmd.Flags().BoolVar(&cont, "continue", false, "Continue with the next episode when one ends")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace output at playback speed")
	return cmd
}

// runPlay drives one controller through key, and its successors with
// Continue, reporting every status change to status. It returns when the
// last episode ends, playback fails or ctx is done.
func runPlay(ctx context.Context, st *bootstrap.Stack, key source.Key, media, status io.Writer, opts playOptions) error {
	ep, err := st.Source.Episode(ctx, key)
	if err != nil {
		return err
	}

	ended := make(chan source.Episode, 1)
	deck := playback.NewDeck()
	ctrl := deck.NewController(playback.Config{
		Factory: headless.Factory(headless.Options{
			Output:     media,
			StallAfter: opts.StallAfter,
			Realtime:   opts.Realtime,
		}),
		Loader:               st.Loader,
		Refresher:            st.Source,
		Prefetcher:           st.Source,
		Positions:            st.Positions,
		StallTimeout:         st.Config.Playback.StallTimeout,
		MaxInPlaceRecoveries: st.Config.Playback.MaxInPlaceRecoveries,
		Autoplay:             true,
		OnEnded: func(ep source.Episode) {
			select {
			case ended <- ep:
			default:
			}
		},
	})
	defer func() { _ = ctrl.Close() }()

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	if err := ctrl.Activate(); err != nil {
		return err
	}
	if err := ctrl.Attach(ctx, ep, opts.Tier); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return playback.ErrClosed
			}
			fmt.Fprintf(status, "%s  %-9s %s [%s]\n", u.At.Format(time.TimeOnly), u.Status, u.Episode, u.Tier)
			if u.Status == playback.StatusError {
				return fmt.Errorf("play %s: %w", u.Episode, u.Err)
			}
		case done := <-ended:
			if !opts.Continue || !done.HasNext() {
				return nil
			}
			next, err := st.Source.Episode(ctx, done.Key().Next())
			if err != nil {
				return err
			}
			if err := ctrl.Attach(ctx, next, opts.Tier); err != nil {
				return err
			}
		}
	}
}
