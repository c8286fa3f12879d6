package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
	"github.com/gechandesu/compute/internal/spec"
	"github.com/gechandesu/compute/internal/units"
)

var (
	attachSource string
	attachSize   uint64
	attachUnit   string
	attachTarget string
	attachCdrom  bool

	resizeUnit string
)

func init() {
	attachdiskCmd.Flags().StringVar(&attachSource, "source", "",
		"path to an existing volume or device to attach")
	attachdiskCmd.Flags().Uint64Var(&attachSize, "size", 0,
		"capacity of a new volume to create and attach")
	attachdiskCmd.Flags().StringVar(&attachUnit, "unit", "GiB",
		"unit for --size")
	attachdiskCmd.Flags().StringVar(&attachTarget, "target", "",
		"target device name, next free one when omitted")
	attachdiskCmd.Flags().BoolVar(&attachCdrom, "cdrom", false,
		"attach as a cdrom drive instead of a disk")
	attachdiskCmd.MarkFlagsMutuallyExclusive("source", "size")

	resizediskCmd.Flags().StringVar(&resizeUnit, "unit", "GiB",
		"unit for the new capacity")
}

var attachdiskCmd = &cobra.Command{
	Use:   "attachdisk <instance>",
	Short: "Attach a disk to an instance",
	Long: `Attach a disk to an instance.

With --source an existing volume or block device is attached. With
--size a new volume is created first. A running instance gets the
device live and persisted; otherwise only the persistent configuration
changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if attachSource == "" && attachSize == 0 {
			return fmt.Errorf("one of --source and --size is required")
		}
		v := spec.VolumeSpec{
			Type:   spec.VolumeFile,
			Device: spec.DeviceDisk,
			Bus:    "virtio",
			Target: attachTarget,
			Source: attachSource,
		}
		if attachCdrom {
			v.Device = spec.DeviceCdrom
			v.Bus = "sata"
			v.IsReadonly = true
		}
		if attachSize > 0 {
			unit, err := units.Parse(attachUnit)
			if err != nil {
				return err
			}
			v.Capacity = &spec.Capacity{Value: attachSize, Unit: unit}
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.AttachVolume(args[0], v)
		})
	},
}

var detachdiskCmd = &cobra.Command{
	Use:   "detachdisk <instance> <target>",
	Short: "Detach a disk from an instance",
	Long: `Detach a disk from an instance by target device name.

The backing volume is kept. The system disk cannot be detached.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.DetachVolume(args[0], args[1])
		})
	},
}

var resizediskCmd = &cobra.Command{
	Use:   "resizedisk <instance> <target> <capacity>",
	Short: "Grow a disk",
	Long: `Grow the volume behind a disk target.

Only possible while the instance is off; the guest would not see the
new size otherwise.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid capacity %q: %w", args[2], err)
		}
		unit, err := units.Parse(resizeUnit)
		if err != nil {
			return err
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.ResizeVolume(args[0], args[1], spec.Capacity{Value: value, Unit: unit})
		})
	},
}
