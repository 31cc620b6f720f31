package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systemaudit/winstaller/internal/catalog"
	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/models"
)

func newImagesCmd() *cobra.Command {
	var (
		configPath string
		urls       bool
	)

	cmd := &cobra.Command{
		Use:   "images",
		Short: "List the supported Windows images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImages(cmd, configPath, urls)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	cmd.Flags().BoolVar(&urls, "urls", false, "also print resolved image URLs (reads config)")
	return cmd
}

func runImages(cmd *cobra.Command, configPath string, urls bool) error {
	out := cmd.OutOrStdout()

	var imgCfg config.ImagesConfig
	if urls {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		imgCfg = cfg.Images
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if urls {
		fmt.Fprintln(w, "CODE\tNAME\tCATEGORY\tUEFI URL\tLEGACY URL")
	} else {
		fmt.Fprintln(w, "CODE\tNAME\tCATEGORY")
	}
	for _, e := range catalog.List() {
		if urls {
			uefi, _ := catalog.ImageURL(imgCfg, e.Code, models.BootModeUEFI)
			legacy, _ := catalog.ImageURL(imgCfg, e.Code, models.BootModeLegacy)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Code, e.Name, e.Category, uefi, legacy)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Code, e.Name, e.Category)
		}
	}
	return w.Flush()
}
