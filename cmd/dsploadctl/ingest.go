package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/hw/hosthw"
	"github.com/avisene/dspload/ingest"
	"github.com/avisene/dspload/loader"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

var (
	ingestLib     uint8
	ingestChannel uint32
	ingestLoad    bool
)

func init() {
	rootCmd.AddCommand(newIngestCmd())
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <image>",
		Short: "Run the ingestion pipeline against the reference backend",
		Long: `The ingest command streams a library image file through the full DMA
ingestion pipeline using the in-process reference hardware backend, then
reports the registered library. With --load, every executable module is also
loaded and unloaded once as a smoke test.

Example:
  dsploadctl ingest effects.img --lib 2
  dsploadctl ingest effects.img --load --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args)
		},
	}
	cmd.Flags().Uint8Var(&ingestLib, "lib", 1, "Library id to register the image under")
	cmd.Flags().Uint32Var(&ingestChannel, "channel", 0, "DMA channel id to use")
	cmd.Flags().BoolVar(&ingestLoad, "load", false, "Load and unload each executable module after ingestion")
	return cmd
}

func runIngest(ctx context.Context, args []string) error {
	path := args[0]
	lib := types.LibraryID(ingestLib)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	reg := registry.New()
	deps := ingest.Deps{
		DMA:   hosthw.NewDMA(f),
		Clock: hosthw.NewClock(),
		Alloc: hosthw.NewAllocator(),
		Cache: hosthw.NewCache(),
	}
	pipe := ingest.New(reg, deps, ingest.DefaultOptions())

	printVerbose("Ingesting %s as library %d on channel %d\n", path, lib, ingestChannel)
	if err := pipe.LoadLibrary(ctx, hw.ChannelID(ingestChannel), lib); err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	img, err := reg.Image(lib)
	if err != nil {
		return err
	}
	man := img.Manifest()
	printInfo("Registered library %d: %d module(s), %d preload pages\n",
		lib, man.ModuleCount, man.PreloadPages)

	if !ingestLoad {
		return nil
	}

	mgr := loader.New(loader.Config{
		Registry: reg,
		Mapper:   hosthw.NewMapper(),
		Cache:    hosthw.NewCache(),
	})
	for i := 0; i < man.ModuleCount; i++ {
		mod, err := img.Module(i)
		if err != nil {
			return err
		}
		if mod.IsLibCode() {
			continue
		}
		id := types.NewModuleID(lib, i)
		printVerbose("Loading %v\n", id)
		if err := mgr.LoadModule(id); err != nil {
			return fmt.Errorf("load %v: %w", id, err)
		}
		if err := mgr.UnloadModule(id); err != nil {
			return fmt.Errorf("unload %v: %w", id, err)
		}
		printInfo("Module %v loaded and unloaded OK\n", id)
	}
	return nil
}
