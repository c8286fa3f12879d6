package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/config"
	"github.com/gechandesu/compute/internal/hypervisor"
	"github.com/gechandesu/compute/internal/instance"
	"github.com/gechandesu/compute/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute - QEMU/KVM instance management tool",
	Long: `Compute manages QEMU/KVM virtual machine instances on a single
hypervisor host through libvirt.

Instances are defined from declarative YAML documents and managed with
lifecycle, hotplug and guest agent commands.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("path to the configuration file (default %s)", config.DefaultPath))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(powrstCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(lsdisksCmd)
	rootCmd.AddCommand(setvcpusCmd)
	rootCmd.AddCommand(setmemCmd)
	rootCmd.AddCommand(setmaxmemCmd)
	rootCmd.AddCommand(setpassCmd)
	rootCmd.AddCommand(setcdromCmd)
	rootCmd.AddCommand(setcloudinitCmd)
	rootCmd.AddCommand(attachdiskCmd)
	rootCmd.AddCommand(detachdiskCmd)
	rootCmd.AddCommand(resizediskCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(sshkeysCmd)
	rootCmd.AddCommand(testConnCmd)
}

// withManager connects to the hypervisor, builds the instance manager
// and runs fn with it. The connection is closed on return.
func withManager(fn func(*instance.Manager) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, err := hypervisor.Connect(cfg.SocketPath, cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
		}
	}()

	caps, err := hypervisor.ProbeHostCaps(client.Libvirt())
	if err != nil {
		return fmt.Errorf("failed to probe host capabilities: %w", err)
	}
	images, err := storage.LookupPool(client.Libvirt(), cfg.ImagesPool)
	if err != nil {
		return err
	}
	volumes, err := storage.LookupPool(client.Libvirt(), cfg.VolumesPool)
	if err != nil {
		return err
	}
	return fn(instance.NewManager(client.Libvirt(), images, volumes, caps))
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the hypervisor connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		client, err := hypervisor.Connect(cfg.SocketPath, cfg.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Println("✓ Connected to libvirt daemon")

		libVersion, err := client.Libvirt().ConnectGetLibVersion()
		if err != nil {
			return fmt.Errorf("failed to get libvirt version: %w", err)
		}
		major := libVersion / 1000000
		minor := (libVersion % 1000000) / 1000
		patch := libVersion % 1000
		fmt.Printf("✓ Libvirt version: %d.%d.%d\n", major, minor, patch)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)
		return nil
	},
}
