package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
	"github.com/gechandesu/compute/internal/spec"
)

var (
	initTest  bool
	initStart bool
)

func init() {
	initCmd.Flags().BoolVar(&initTest, "test", false,
		"validate and translate only, print the resulting descriptor")
	initCmd.Flags().BoolVar(&initStart, "start", false,
		"start the instance right after it is defined")
}

var initCmd = &cobra.Command{
	Use:   "init <instance.yaml>",
	Short: "Initialize an instance from a definition file",
	Long: `Initialize a new instance from a YAML definition file.

The definition declares the instance resources (CPU, memory, volumes),
network interfaces and cloud-init payloads. Missing fields are filled
from the hypervisor host defaults.

With --test nothing is created: the definition is validated, translated
and the resulting libvirt descriptor printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			s, err := spec.LoadFile(args[0], mgr.Caps())
			if err != nil {
				return err
			}
			xml, err := mgr.Init(s, instance.InitOptions{
				DryRun: initTest,
				Start:  initStart,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize instance: %w", err)
			}
			if initTest {
				fmt.Println(xml)
				return nil
			}
			fmt.Printf("✓ Instance %s initialized\n", s.Name)
			return nil
		})
	},
}
