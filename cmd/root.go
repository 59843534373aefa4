package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "raven",
		Short:         "Raven chat client: sessions, contacts and realtime chat",
		Long:          "raven signs in to a Raven chat backend, keeps the session alive across access-token expiry, and chats over a realtime channel that reconnects with refreshed credentials.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug output to stderr")

	runner := appRunner{debug: &debug}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newLoginCmd(runner),
		newRegisterCmd(runner),
		newLogoutCmd(runner),
		newSessionCmd(runner),
		newContactsCmd(runner),
		newFriendsCmd(runner),
		newChatCmd(runner),
	)

	return rootCmd
}
