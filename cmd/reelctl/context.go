// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelplay/internal/app/bootstrap"
	"github.com/ManuGH/reelplay/internal/config"
)

var offline = map[string]string{"skipConfigLoad": "true"}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.AppConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.AppConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, _, c.configErr = bootstrap.LoadConfig(path, version)
	})
	return c.config, c.configErr
}

// withStack builds the shared stack for one command and closes it afterwards.
func (c *commandContext) withStack(ctx context.Context, fn func(*bootstrap.Stack) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := bootstrap.NewStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
