package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gechandesu/compute/internal/instance"
)

var (
	execTimeout    time.Duration
	execExecutable string
	execEnv        []string
	execNoJoinArgs bool
)

func init() {
	execCmd.Flags().DurationVarP(&execTimeout, "timeout", "t", instance.DefaultExecTimeout,
		"time to wait for the command to finish")
	execCmd.Flags().StringVar(&execExecutable, "executable", "/bin/sh",
		"shell the joined command line is passed to")
	execCmd.Flags().StringArrayVar(&execEnv, "env", nil,
		"extra environment variables, KEY=value form")
	execCmd.Flags().BoolVar(&execNoJoinArgs, "no-join-args", false,
		"treat the first argument as the executable and the rest as its argv")

	sshkeysCmd.AddCommand(sshkeysAddCmd)
	sshkeysCmd.AddCommand(sshkeysRemoveCmd)
	sshkeysCmd.AddCommand(sshkeysListCmd)
	sshkeysAddCmd.Flags().BoolVar(&sshkeysReset, "reset", false,
		"replace the existing keys instead of appending")
}

var execCmd = &cobra.Command{
	Use:   "exec <instance> -- <command> [args...]",
	Short: "Run a command inside the guest",
	Long: `Run a command inside the guest through the guest agent.

By default the arguments are joined into one command line and passed to
the guest shell (--executable, /bin/sh by default). With --no-join-args
the first argument is the executable and the rest are passed as its
argument vector.

Piped standard input is forwarded to the guest command. The guest exit
code becomes the exit code of this command.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := instance.ExecOptions{
			Env:     execEnv,
			Timeout: execTimeout,
		}
		if execNoJoinArgs {
			opts.Path = args[1]
			opts.Args = args[2:]
		} else {
			opts.Path = execExecutable
			opts.Args = []string{"-c", strings.Join(args[1:], " ")}
		}
		if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
			stdin, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			opts.Stdin = stdin
		}
		return withManager(func(mgr *instance.Manager) error {
			result, err := mgr.Exec(args[0], opts)
			if err != nil {
				return err
			}
			os.Stdout.Write(result.Stdout)
			os.Stderr.Write(result.Stderr)
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		})
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent <instance> <command-json>",
	Short: "Send a raw guest agent command",
	Long: `Send one raw QEMU guest agent command and print the JSON reply.

See https://qemu-project.gitlab.io/qemu/interop/qemu-ga-ref.html for
the available commands.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			reply, err := mgr.AgentCommand(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		})
	},
}

var sshkeysReset bool

var sshkeysCmd = &cobra.Command{
	Use:   "sshkeys",
	Short: "Manage guest authorized SSH keys",
	Long: `Manage a guest user's authorized SSH keys through the guest
agent.`,
}

var sshkeysAddCmd = &cobra.Command{
	Use:   "add <instance> <user> <key>...",
	Short: "Add authorized keys",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.AddSSHKeys(args[0], args[1], args[2:], sshkeysReset)
		})
	},
}

var sshkeysRemoveCmd = &cobra.Command{
	Use:   "remove <instance> <user> <key>...",
	Short: "Remove authorized keys",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			return mgr.RemoveSSHKeys(args[0], args[1], args[2:])
		})
	},
}

var sshkeysListCmd = &cobra.Command{
	Use:   "ls <instance> <user>",
	Short: "List authorized keys",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mgr *instance.Manager) error {
			keys, err := mgr.GetSSHKeys(args[0], args[1])
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		})
	},
}
