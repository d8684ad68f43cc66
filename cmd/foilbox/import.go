package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foilbox/foilbox/internal/archive"
	"github.com/foilbox/foilbox/internal/importer"
)

var importerName string

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <id-or-path>",
		Short: "Import a title into the library",
		Long: `Import a title from a URL, a title id, or a local path. Remote
sources are fetched through the download queue; archives are extracted and
their contents moved into the library root.`,
		Example: `  foilbox import https://example.com/game.nsp
  foilbox import 010005501E68C000
  foilbox import /mnt/usb/games.zip`,
		Args: cobra.ExactArgs(1),
		RunE: importRun,
	}

	cmd.Flags().StringVar(&importerName, "importer", "", "importer to use for id-based import")

	return cmd
}

func importRun(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.store.Close()

	arg := args[0]
	ctx := cmd.Context()

	var src *importer.Source
	if fi, err := os.Stat(arg); err == nil {
		switch {
		case fi.IsDir():
			src = &importer.Source{Kind: importer.KindLocalDir, Path: arg}
		case archive.IsArchive(arg):
			src = &importer.Source{Kind: importer.KindLocalArchive, Path: arg}
		default:
			src = &importer.Source{Kind: importer.KindLocal, Path: arg}
		}
	} else {
		imp, err := comps.registry.ResolveForID(importerName, arg)
		if err != nil {
			return err
		}
		src, err = imp.Import(ctx, importer.Request{ID: arg})
		if err != nil {
			return err
		}
	}

	m, err := comps.processor.Process(ctx, src)
	if err != nil {
		return err
	}
	defer m.Release()

	if err := importer.ImportFiles(m, globalCfg.Server.LibraryDir, logger); err != nil {
		return err
	}

	report, err := comps.scanner.FullRescan(ctx, false)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d file(s), library now holds %d parsed entries\n", len(m.Files), report.Scanned)
	return nil
}
