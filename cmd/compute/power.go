package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
)

var (
	shutdownSoft   bool
	shutdownNormal bool
	shutdownHard   bool
	shutdownUnsafe bool
)

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownSoft, "soft", false,
		"ask the guest agent to shut the guest down")
	shutdownCmd.Flags().BoolVar(&shutdownNormal, "normal", false,
		"send an ACPI power-button event (default)")
	shutdownCmd.Flags().BoolVar(&shutdownHard, "hard", false,
		"power off, letting QEMU flush its caches")
	shutdownCmd.Flags().BoolVar(&shutdownUnsafe, "unsafe", false,
		"pull the plug immediately, data loss possible")
	shutdownCmd.MarkFlagsMutuallyExclusive("soft", "normal", "hard", "unsafe")

	autostartCmd.Flags().BoolVar(&autostartDisable, "disable", false,
		"do not start the instance with the host")
}

var startCmd = &cobra.Command{
	Use:   "start <instance>",
	Short: "Start an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Start(args[0])
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown <instance>",
	Short: "Shut an instance down",
	Long: `Shut an instance down.

The default method sends an ACPI power-button event and returns without
waiting; --soft asks the guest agent instead. --hard and --unsafe power
the instance off without involving the guest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := instance.ShutdownNormal
		switch {
		case shutdownSoft:
			method = instance.ShutdownSoft
		case shutdownHard:
			method = instance.ShutdownHard
		case shutdownUnsafe:
			method = instance.ShutdownUnsafe
		}
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Shutdown(args[0], method)
		})
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <instance>",
	Short: "Request an orderly guest reboot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Reboot(args[0])
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <instance>",
	Short: "Pull the virtual reset line",
	Long: `Reset an instance without any guest notice.

The QEMU process survives, so descriptor changes staged for next boot
do not take effect. Use powrst for a full power cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Reset(args[0])
		})
	},
}

var powrstCmd = &cobra.Command{
	Use:   "powrst <instance>",
	Short: "Power cycle an instance",
	Long: `Power cycle an instance: hard power off, then start.

Unlike reset this tears the QEMU process down, so descriptor changes
staged for next boot take effect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.PowerReset(args[0])
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <instance>",
	Short: "Freeze instance execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Pause(args[0])
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <instance>",
	Short: "Unfreeze a paused instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.Resume(args[0])
		})
	},
}

var autostartDisable bool

var autostartCmd = &cobra.Command{
	Use:   "autostart <instance>",
	Short: "Start the instance with the host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			if err := mgr.SetAutostart(args[0], !autostartDisable); err != nil {
				return err
			}
			if autostartDisable {
				fmt.Printf("✓ Autostart disabled for %s\n", args[0])
			} else {
				fmt.Printf("✓ Autostart enabled for %s\n", args[0])
			}
			return nil
		})
	},
}
