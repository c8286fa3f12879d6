package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
	"github.com/gechandesu/compute/internal/spec"
)

var (
	setpassEncrypted bool
	setcdromDetach   bool

	cloudInitUserData      string
	cloudInitVendorData    string
	cloudInitMetaData      string
	cloudInitNetworkConfig string
)

func init() {
	setpassCmd.Flags().BoolVar(&setpassEncrypted, "encrypted", false,
		"the password is already hashed")
	setcdromCmd.Flags().BoolVar(&setcdromDetach, "detach", false,
		"eject the media instead of inserting one")
	setcloudinitCmd.Flags().StringVar(&cloudInitUserData, "user-data", "",
		"path to a user-data file")
	setcloudinitCmd.Flags().StringVar(&cloudInitVendorData, "vendor-data", "",
		"path to a vendor-data file")
	setcloudinitCmd.Flags().StringVar(&cloudInitMetaData, "meta-data", "",
		"path to a meta-data file")
	setcloudinitCmd.Flags().StringVar(&cloudInitNetworkConfig, "network-config", "",
		"path to a network-config file")
}

func parseCount(field, value string) (uint64, error) {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return n, nil
}

var setvcpusCmd = &cobra.Command{
	Use:   "setvcpus <instance> <count>",
	Short: "Change the vCPU count",
	Long: `Change the instance vCPU count.

The persistent configuration is always updated; a running instance gets
the change applied live when possible.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vcpus, err := parseCount("vcpu count", args[1])
		if err != nil {
			return err
		}
		return withManager(func(mgr *instance.Manager) error {
			pending, err := mgr.SetVcpus(args[0], uint(vcpus))
			if err != nil {
				return err
			}
			if pending {
				fmt.Println("The new vCPU count takes effect after a power cycle (powrst)")
			}
			return nil
		})
	},
}

var setmemCmd = &cobra.Command{
	Use:   "setmem <instance> <mebibytes>",
	Short: "Change the memory allocation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		memory, err := parseCount("memory size", args[1])
		if err != nil {
			return err
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.SetMemory(args[0], memory)
		})
	},
}

var setmaxmemCmd = &cobra.Command{
	Use:   "setmaxmem <instance> <mebibytes>",
	Short: "Change the memory ceiling",
	Long:  `Change the maximum memory. Only possible while the instance is off.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		memory, err := parseCount("memory size", args[1])
		if err != nil {
			return err
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.SetMaxMemory(args[0], memory)
		})
	},
}

var setpassCmd = &cobra.Command{
	Use:   "setpass <instance> <user> <password>",
	Short: "Set a guest user password",
	Long: `Set a user password inside the guest through the guest agent.

With --encrypted the password is passed to the guest as an
already-hashed value.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.SetPassword(args[0], args[1], args[2], setpassEncrypted)
		})
	},
}

var setcdromCmd = &cobra.Command{
	Use:   "setcdrom <instance> [iso-path]",
	Short: "Change the cdrom media",
	Long: `Insert media into the instance cdrom drive, or eject it with
--detach. Only the cdrom device is touched.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var source string
		if !setcdromDetach {
			if len(args) != 2 {
				return fmt.Errorf("an iso path is required unless --detach is given")
			}
			source = args[1]
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.SetCdrom(args[0], source)
		})
	},
}

func payloadFromFile(path string) (spec.Payload, error) {
	if path == "" {
		return spec.Payload{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return spec.Payload{}, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return spec.FromText(string(data)), nil
}

var setcloudinitCmd = &cobra.Command{
	Use:   "setcloudinit <instance>",
	Short: "Update the cloud-init payloads",
	Long: `Update the instance cloud-init payloads.

The given payload files are merged over the deployed ones and the
NoCloud ISO is rewritten. A running guest keeps the old data until it
next reads the ISO.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := &spec.CloudInitSpec{}
		var err error
		if patch.UserData, err = payloadFromFile(cloudInitUserData); err != nil {
			return err
		}
		if patch.VendorData, err = payloadFromFile(cloudInitVendorData); err != nil {
			return err
		}
		if patch.MetaData, err = payloadFromFile(cloudInitMetaData); err != nil {
			return err
		}
		if patch.NetworkConfig, err = payloadFromFile(cloudInitNetworkConfig); err != nil {
			return err
		}
		return withManager(func(mgr *instance.Manager) error {
			pending, err := mgr.SetCloudInit(args[0], patch)
			if err != nil {
				return err
			}
			if pending {
				fmt.Println("The new payloads take effect after a power cycle (powrst)")
			}
			return nil
		})
	},
}
