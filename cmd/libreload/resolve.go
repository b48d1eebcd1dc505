// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/libreload/internal/libname"
	"github.com/holomush/libreload/internal/resolve"
	"github.com/holomush/libreload/pkg/reload"
)

// NewResolveCmd creates the resolve subcommand.
func NewResolveCmd() *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "resolve NAME...",
		Short: "Show where library names resolve",
		Long: `Resolve each library name the way run would, without loading anything.
A name is formatted by platform convention (foo becomes libfoo.so, libfoo.dylib
or foo.dll) unless --exact is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rc := cfg.Reload()

			r := &resolve.Resolver{
				SearchPaths: resolve.NormalizeSearchPaths(rc.SearchPaths),
				Platform:    libname.Current(),
				Search:      rc.Search,
			}
			mode := nameMode(exact)

			var missing []string
			for _, name := range args {
				path, ok := r.Resolve(name, mode)
				if !ok {
					missing = append(missing, libname.Name(r.Platform, mode, name))
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, path)
			}
			if len(missing) > 0 {
				return oops.Code(reload.CodeNotFound).
					With("file_names", missing).
					Errorf("%d of %d libraries not found", len(missing), len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "use names as file names without platform formatting")
	return cmd
}

func nameMode(exact bool) reload.NameMode {
	if exact {
		return reload.ExactName
	}
	return reload.PlatformName
}
