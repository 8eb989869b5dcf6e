package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/config"
)

var sectionsReportType string

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Print the canonical section titles per report type",
	RunE:  runSections,
}

func init() {
	sectionsCmd.Flags().StringVar(&sectionsReportType, "type", "", "Only print sections of this report type")
	rootCmd.AddCommand(sectionsCmd)
}

func runSections(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sections, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	return printSections(cmd.OutOrStdout(), sections, sectionsReportType)
}

func printSections(w io.Writer, sections *catalog.Catalog, reportType string) error {
	types := sections.ReportTypes()
	if reportType != "" {
		types = []string{reportType}
	}
	for _, name := range types {
		report, err := sections.Report(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%d sections)\n", report.Type, len(report.Sections))
		for i, section := range report.Sections {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, section.Title)
		}
	}
	return nil
}
