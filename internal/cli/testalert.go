package cli

import (
	"github.com/spf13/cobra"
)

var testAlertMessage string

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a test notification through the configured alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestAlert(cmd.Context(), testAlertMessage)
	},
}

func init() {
	testAlertCmd.Flags().StringVar(&testAlertMessage, "message", "", "Message text to deliver")
}
