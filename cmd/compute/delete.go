package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
)

var (
	deleteYes         bool
	deleteSaveVolumes bool
)

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false,
		"do not ask for confirmation")
	deleteCmd.Flags().BoolVar(&deleteSaveVolumes, "save-volumes", false,
		"keep the instance volumes on disk")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <instance>",
	Short: "Delete an instance",
	Long: `Delete an instance.

A running instance is powered off first. The domain is undefined and,
unless --save-volumes is given, its volumes are deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !deleteYes {
			fmt.Printf("Delete instance %s and its volumes? [y/N]: ", name)
			reader := bufio.NewReader(os.Stdin)
			answer, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read answer: %w", err)
			}
			answer = strings.ToLower(strings.TrimSpace(answer))
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted")
				return nil
			}
		}
		return withManager(func(mgr *instance.Manager) error {
			if err := mgr.Delete(name, instance.DeleteOptions{SaveVolumes: deleteSaveVolumes}); err != nil {
				return err
			}
			fmt.Printf("✓ Instance %s deleted\n", name)
			return nil
		})
	},
}
