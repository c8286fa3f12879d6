package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
)

var lsdisksPersistent bool

func init() {
	lsdisksCmd.Flags().BoolVar(&lsdisksPersistent, "persistent", false,
		"show the next-boot disk set instead of the live one")
}

var statusCmd = &cobra.Command{
	Use:   "status <instance>",
	Short: "Show instance status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			info, err := mgr.Status(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name: %s\n", info.Name)
			fmt.Printf("State: %s\n", info.State)
			fmt.Printf("VCPUs: %d\n", info.VCPUs)
			fmt.Printf("Memory: %d MiB\n", info.MemoryMiB)
			fmt.Printf("Max memory: %d MiB\n", info.MaxMemoryMiB)
			fmt.Printf("Autostart: %t\n", info.Autostart)
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			infos, err := mgr.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No instances found")
				return nil
			}
			sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
			fmt.Printf("%-30s %-12s %6s %12s\n", "NAME", "STATE", "VCPUS", "MEMORY")
			fmt.Println(strings.Repeat("-", 64))
			for _, info := range infos {
				fmt.Printf("%-30s %-12s %6d %8d MiB\n",
					info.Name, info.State, info.VCPUs, info.MemoryMiB)
			}
			return nil
		})
	},
}

var lsdisksCmd = &cobra.Command{
	Use:   "lsdisks <instance>",
	Short: "List instance disks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			disks, err := mgr.ListDisks(args[0], lsdisksPersistent)
			if err != nil {
				return err
			}
			fmt.Printf("%-6s %-6s %-6s %-7s %s\n", "TARGET", "DEVICE", "BUS", "SYSTEM", "SOURCE")
			fmt.Println(strings.Repeat("-", 72))
			for _, d := range disks {
				fmt.Printf("%-6s %-6s %-6s %-7t %s\n",
					d.Target, d.Device, d.Bus, d.IsSystem, d.Source)
			}
			return nil
		})
	},
}
