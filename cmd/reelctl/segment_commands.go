// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/ManuGH/reelplay/internal/segment"
)

func newSegmentCommands() []*cobra.Command {
	return []*cobra.Command{
		newDecryptCommand(),
		newInspectCommand(),
		newSealCommand(),
	}
}

func newDecryptCommand() *cobra.Command {
	var output string
	var strict bool

	cmd := &cobra.Command{
		Use:         "decrypt <segment>",
		Short:       "Decrypt a container segment (other payloads pass through)",
		Args:        cobra.ExactArgs(1),
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, outcome, fault := segment.Open(raw)
			if fault != nil {
				if strict {
					return fmt.Errorf("%s: %w", outcome, fault)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v (payload passed through)\n", outcome, fault)
			}
			if err := writeOutput(cmd, output, out); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes -> %s\n", outcome, len(out), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail instead of passing through malformed segments")
	return cmd
}

type segmentReport struct {
	File          string          `json:"file"`
	Size          int             `json:"size"`
	Magic         bool            `json:"magic"`
	Parsed        bool            `json:"parsed"`
	KeyOffset     int             `json:"key_offset,omitempty"`
	DataOffset    int             `json:"data_offset,omitempty"`
	Key           string          `json:"key,omitempty"`
	CipherBytes   int             `json:"cipher_bytes"`
	TrailingBytes int             `json:"trailing_bytes"`
	Outcome       segment.Outcome `json:"outcome"`
	OutputBytes   int             `json:"output_bytes"`
	Fault         string          `json:"fault,omitempty"`
}

func inspectSegment(name string, raw []byte) segmentReport {
	seg := segment.Parse(raw)
	out, outcome, fault := segment.Open(raw)
	r := segmentReport{
		File:          name,
		Size:          len(raw),
		Magic:         segment.HasMagic(raw),
		Parsed:        seg.Parsed,
		KeyOffset:     seg.KeyOffset,
		DataOffset:    seg.DataOffset,
		CipherBytes:   len(seg.Cipher),
		TrailingBytes: len(seg.Trailing),
		Outcome:       outcome,
		OutputBytes:   len(out),
	}
	if seg.Parsed {
		r.Key = hex.EncodeToString(seg.Key)
	}
	if fault != nil {
		r.Fault = fault.Error()
	}
	return r
}

func newInspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "inspect <segment>",
		Short:       "Show the container header of a segment",
		Args:        cobra.ExactArgs(1),
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			r := inspectSegment(args[0], raw)
			if asJSON {
				return writeJSON(cmd, r)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "File:        %s (%d bytes)\n", r.File, r.Size)
			fmt.Fprintf(w, "Container:   %s\n", yesNo(r.Magic))
			if r.Parsed {
				fmt.Fprintf(w, "Key:         %s @ %d\n", r.Key, r.KeyOffset)
				fmt.Fprintf(w, "Cipher:      %d bytes\n", r.CipherBytes)
				fmt.Fprintf(w, "Trailing:    %d bytes\n", r.TrailingBytes)
			}
			fmt.Fprintf(w, "Outcome:     %s (%d bytes delivered)\n", r.Outcome, r.OutputBytes)
			if r.Fault != "" {
				fmt.Fprintf(w, "Fault:       %s\n", r.Fault)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSealCommand() *cobra.Command {
	var (
		output    string
		keyText   string
		keyOffset int
		trailing  string
	)

	cmd := &cobra.Command{
		Use:         "seal <plain>",
		Short:       "Wrap a plain payload into a container segment",
		Args:        cobra.ExactArgs(1),
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(keyText)
			if err != nil {
				return err
			}
			plain, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var tail []byte
			if trailing != "" {
				if tail, err = os.ReadFile(trailing); err != nil {
					return err
				}
			}
			sealed, err := segment.Seal(plain, key, tail, keyOffset)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, sealed)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&keyText, "key", "", "AES-128 key: 32 hex digits or 16 characters")
	cmd.Flags().IntVar(&keyOffset, "key-offset", segment.HeaderSize, "Byte offset of the key inside the header area")
	cmd.Flags().StringVar(&trailing, "trailing", "", "File appended in clear after the cipher region")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func parseKey(s string) ([]byte, error) {
	switch len(s) {
	case 2 * segment.KeySize:
		key, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		return key, nil
	case segment.KeySize:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("key must be %d hex digits or %d characters", 2*segment.KeySize, segment.KeySize)
	}
}

// writeOutput writes data to path atomically, or to stdout for "" and "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending output file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
