package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var firewallCmd = &cobra.Command{
	Use:   "firewall",
	Short: "manage per-subnet firewall policy",
}

var firewallFile string

var firewallApplyCmd = &cobra.Command{
	Use:   "apply <vpc>",
	Short: "apply a YAML rule set to the VPC's subnets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(firewallFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.firewall.ApplyFirewall(cmd.Context(), args[0], source)
		if err != nil {
			return err
		}
		fmt.Printf("installed %d rules in %d namespaces\n", result.RulesInstalled, len(result.Applied))
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

var firewallTestCmd = &cobra.Command{
	Use:   "test <vpc>",
	Short: "check each declared rule against the live filter state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(firewallFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		checks, err := a.firewall.TestFirewall(cmd.Context(), args[0], source)
		if err != nil {
			return err
		}
		for _, c := range checks {
			status := "MISSING"
			if c.Present {
				status = "PRESENT"
			}
			fmt.Printf("%s %s: %s\n", status, c.Namespace, c.Rule)
		}
		return nil
	},
}

var firewallCleanupCmd = &cobra.Command{
	Use:   "cleanup <vpc>",
	Short: "reset the VPC's namespaces to an allow-all filter state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.firewall.CleanupFirewall(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, ns := range result.Applied {
			fmt.Println("reset", ns)
		}
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

func init() {
	firewallApplyCmd.Flags().StringVarP(&firewallFile, "file", "f", "", "rule-set YAML file")
	firewallApplyCmd.MarkFlagRequired("file")
	firewallTestCmd.Flags().StringVarP(&firewallFile, "file", "f", "", "rule-set YAML file")
	firewallTestCmd.MarkFlagRequired("file")
	firewallCmd.AddCommand(firewallApplyCmd, firewallTestCmd, firewallCleanupCmd)
}
