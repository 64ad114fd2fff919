package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/internal/mmfile"
	"github.com/avisene/dspload/registry"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Validate a library image and report its manifest",
		Long: `The info command validates a DSP library image file and displays its
manifest header and module table.

Example:
  dsploadctl info effects.img
  dsploadctl info effects.img --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

type moduleInfo struct {
	Index      int    `json:"index"`
	UUID       string `json:"uuid"`
	EntryPoint uint32 `json:"entry_point"`
	Instances  uint16 `json:"instance_max_count"`
	LibCode    bool   `json:"lib_code"`
	CodePages  uint32 `json:"code_pages"`
	ROPages    uint32 `json:"rodata_pages"`
	BSSPages   uint32 `json:"bss_pages"`
}

type imageInfo struct {
	File         string       `json:"file"`
	Size         int          `json:"size"`
	Version      uint16       `json:"version"`
	PreloadPages int          `json:"preload_pages"`
	Modules      []moduleInfo `json:"modules"`
}

func runInfo(args []string) error {
	path := args[0]
	printVerbose("Opening image: %s\n", path)

	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer cleanup()

	// Validation id only; the image is not registered anywhere.
	img, err := registry.NewImage(1, data)
	if err != nil {
		return fmt.Errorf("invalid image: %w", err)
	}
	man := img.Manifest()

	out := imageInfo{
		File:         path,
		Size:         len(data),
		Version:      man.Version,
		PreloadPages: man.PreloadPages,
	}
	for i := 0; i < man.ModuleCount; i++ {
		mod, err := img.Module(i)
		if err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
		out.Modules = append(out.Modules, moduleInfo{
			Index:      i,
			UUID:       mod.UUID.String(),
			EntryPoint: mod.EntryPoint,
			Instances:  mod.InstanceMaxCount,
			LibCode:    mod.IsLibCode(),
			CodePages:  mod.Segments[format.SegmentCode].LengthPages,
			ROPages:    mod.Segments[format.SegmentROData].LengthPages,
			BSSPages:   mod.Segments[format.SegmentBSS].LengthPages,
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	printInfo("\nImage Information:\n")
	printInfo("  File: %s\n", out.File)
	printInfo("  Size: %d bytes\n", out.Size)
	printInfo("  Version: %d\n", out.Version)
	printInfo("  Preload pages: %d\n", out.PreloadPages)
	printInfo("  Modules: %d\n", len(out.Modules))
	for _, m := range out.Modules {
		kind := "exec"
		if m.LibCode {
			kind = "libcode"
		}
		printInfo("\n  [%d] %s (%s)\n", m.Index, m.UUID, kind)
		printInfo("      entry 0x%08x, max %d instance(s)\n", m.EntryPoint, m.Instances)
		printInfo("      code %d / rodata %d / bss %d pages\n", m.CodePages, m.ROPages, m.BSSPages)
	}
	return nil
}
