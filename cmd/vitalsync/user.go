package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts on the server",
}

var (
	userEmail string
	userTier  string
)

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "user create")
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.CreateUser(cmd.Context(), args[0], userEmail, userTier)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (id %d, tier %s)\n", u.Username, u.ID, u.Tier)
		return nil
	},
}

var userSetTierCmd = &cobra.Command{
	Use:   "set-tier USERNAME TIER",
	Short: "Change an account's tier and retention",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "user set-tier")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.SetTier(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s, retention %d days\n", args[0], args[1], rec.RetentionDays)
		return nil
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate USERNAME",
	Short: "Deactivate an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "user deactivate")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Deactivate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deactivated %s\n", args[0])
		return nil
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token USERNAME",
	Short: "Issue a bearer token for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "user token")
		if err != nil {
			return err
		}
		defer a.Close()

		token, err := a.IssueToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show USERNAME",
	Short: "Show an account with its retention and storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "user show")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.DescribeUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("User:      %s (id %d)\n", s.User.Username, s.User.ID)
		fmt.Printf("Email:     %s\n", s.User.Email)
		fmt.Printf("Tier:      %s\n", s.User.Tier)
		fmt.Printf("Active:    %t\n", s.User.Active)
		fmt.Printf("Retention: %d days\n", s.Retention.RetentionDays)
		fmt.Printf("Samples:   %d hot, %d compacted\n", s.Hot, s.Compacted)
		if len(s.Chunks) == 0 {
			return nil
		}
		fmt.Println("Chunks:")
		for _, c := range s.Chunks {
			archive := c.ArchiveKey
			if archive == "" {
				archive = "-"
			}
			fmt.Printf("  %s  %5d samples  %v  %s\n", c.Day.Format("2006-01-02"), c.Count, c.Codec, archive)
		}
		return nil
	},
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage devices on the server",
}

var (
	deviceName string
	deviceType string
)

var deviceRegisterCmd = &cobra.Command{
	Use:   "register USERNAME EXTERNAL_ID",
	Short: "Register a device for an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "device register")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.RegisterDevice(cmd.Context(), args[0], args[1], deviceName, deviceType)
		if err != nil {
			return err
		}
		fmt.Printf("Registered device %s (id %d) for user id %d\n", d.ExternalID, d.ID, d.UserID)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "account email")
	userCreateCmd.Flags().StringVar(&userTier, "tier", "free", "account tier (free or premium)")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userSetTierCmd)
	userCmd.AddCommand(userDeactivateCmd)
	userCmd.AddCommand(userTokenCmd)
	userCmd.AddCommand(userShowCmd)

	deviceRegisterCmd.Flags().StringVar(&deviceName, "name", "", "device display name")
	deviceRegisterCmd.Flags().StringVar(&deviceType, "type", "wearable", "device type")

	deviceCmd.AddCommand(deviceRegisterCmd)
}
