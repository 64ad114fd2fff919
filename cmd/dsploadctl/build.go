package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avisene/dspload/internal/format"
)

var buildOutput string

func init() {
	rootCmd.AddCommand(newBuildCmd())
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <descriptor>",
		Short: "Assemble a library image from a YAML descriptor",
		Long: `The build command assembles a loadable library image from a YAML
descriptor. Segment payloads are read from files relative to the descriptor.

Descriptor format:
  modules:
    - uuid: 54cf5598-8b29-11ec-a8a3-0242ac120002
      entry_point: 0x01000000
      instance_max_count: 2
      lib_code: false
      code:   {base: 0x01000000, pages: 1, file: mod_a_text.bin}
      rodata: {base: 0x01100000, pages: 1, file: mod_a_rodata.bin}
      bss:    {base: 0x01200000, pages: 4}

Example:
  dsploadctl build effects.yaml -o effects.img`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args)
		},
	}
	cmd.Flags().StringVarP(&buildOutput, "output", "o", "library.img", "Output image path")
	return cmd
}

type segmentDesc struct {
	Base  uint32 `yaml:"base"`
	Pages uint32 `yaml:"pages"`
	File  string `yaml:"file"`
}

type moduleDesc struct {
	UUID             string      `yaml:"uuid"`
	EntryPoint       uint32      `yaml:"entry_point"`
	InstanceMaxCount uint16      `yaml:"instance_max_count"`
	LibCode          bool        `yaml:"lib_code"`
	Code             segmentDesc `yaml:"code"`
	ROData           segmentDesc `yaml:"rodata"`
	BSS              segmentDesc `yaml:"bss"`
}

type imageDesc struct {
	Modules []moduleDesc `yaml:"modules"`
}

func runBuild(args []string) error {
	descPath := args[0]
	raw, err := os.ReadFile(descPath)
	if err != nil {
		return fmt.Errorf("failed to read descriptor: %w", err)
	}
	var desc imageDesc
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	if len(desc.Modules) == 0 {
		return fmt.Errorf("descriptor declares no modules")
	}

	dir := filepath.Dir(descPath)
	b := format.NewBuilder()
	for i, m := range desc.Modules {
		id, err := uuid.Parse(m.UUID)
		if err != nil {
			return fmt.Errorf("module %d: invalid uuid: %w", i, err)
		}
		code, err := readPayload(dir, m.Code.File)
		if err != nil {
			return fmt.Errorf("module %d: code payload: %w", i, err)
		}
		rodata, err := readPayload(dir, m.ROData.File)
		if err != nil {
			return fmt.Errorf("module %d: rodata payload: %w", i, err)
		}
		b.AddModule(format.ModuleSpec{
			UUID:             id,
			EntryPoint:       m.EntryPoint,
			InstanceMaxCount: m.InstanceMaxCount,
			LibCode:          m.LibCode,
			CodeBase:         m.Code.Base,
			CodePages:        m.Code.Pages,
			Code:             code,
			RODataBase:       m.ROData.Base,
			ROPages:          m.ROData.Pages,
			ROData:           rodata,
			BSSBase:          m.BSS.Base,
			BSSPages:         m.BSS.Pages,
		})
	}

	img, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to assemble image: %w", err)
	}
	if err := os.WriteFile(buildOutput, img, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	printInfo("Wrote %s: %d bytes, %d module(s)\n", buildOutput, len(img), len(desc.Modules))
	return nil
}

func readPayload(dir, name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}
	return os.ReadFile(filepath.Join(dir, name))
}
