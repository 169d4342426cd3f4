// Command bitfs is a command-line front end over the bitfs package: create
// an image, add and remove files, inspect its superblock, and pull file
// content back out.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagImage   string
	flagSecret  string
	flagVerbose bool
)

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func commandInit() {
	rootCmd.PersistentFlags().StringVarP(&flagImage, "image", "i", "", "path to the bitfs image file")
	rootCmd.PersistentFlags().StringVarP(&flagSecret, "secret", "s", "", "obfuscation secret (falls back to $BITFS_SECRET)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if flagSecret == "" {
			flagSecret = os.Getenv("BITFS_SECRET")
		}
		return nil
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(fsinfoCmd)
	rootCmd.AddCommand(lsdirCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(fileinfoCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(exportDirCmd)
	rootCmd.AddCommand(mvCmd)
}

var rootCmd = &cobra.Command{
	Use:   "bitfs",
	Short: "bitfs is a single-file block-structured pseudo-filesystem",
	Long: `bitfs stores a directory hierarchy of named files inside one host
file, obfuscating content with a keystream derived from a secret you
provide. It has no permissions, symlinks, or nested directories: paths are
opaque keys into a flat directory index.`,
}

func requireImage(cmd *cobra.Command, _ []string) error {
	if flagImage == "" {
		return errUsage(cmd, "--image is required")
	}
	return nil
}

func requireSecret(cmd *cobra.Command, _ []string) error {
	if flagSecret == "" {
		return errUsage(cmd, "--secret (or $BITFS_SECRET) is required")
	}
	return nil
}

func errUsage(cmd *cobra.Command, msg string) error {
	cmd.SilenceUsage = false
	return &usageError{msg: msg}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
