package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var natCmd = &cobra.Command{
	Use:   "nat",
	Short: "manage NAT for public subnets",
}

var natEnableCmd = &cobra.Command{
	Use:   "enable <vpc>",
	Short: "enable NAT for a VPC's public subnets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.nat.EnableNAT(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("NAT enabled via %s for %v\n", result.EgressInterface, result.PublicCIDRs)
		for _, rule := range result.RulesAdded {
			fmt.Println("added:", rule)
		}
		for _, rule := range result.RulesPresent {
			fmt.Println("already present:", rule)
		}
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

var natDisableCmd = &cobra.Command{
	Use:   "disable <vpc>",
	Short: "remove the NAT rules for a VPC",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.nat.DisableNAT(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("NAT disabled")
		return nil
	},
}

var natTestCmd = &cobra.Command{
	Use:   "test <vpc>",
	Short: "probe external and gateway reachability per subnet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		checks, err := a.nat.TestConnectivity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, c := range checks {
			status := "FAIL"
			if c.Pass {
				status = "PASS"
			}
			fmt.Printf("%s %s: %s %s (expected %s)\n", status, c.Namespace, c.Name, c.Target, c.Expected)
		}
		return nil
	},
}

var natVerifyCmd = &cobra.Command{
	Use:   "verify <vpc>",
	Short: "inspect forwarding state and installed NAT rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		report, err := a.nat.VerifyNATSetup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("forwarding=%v egress=%s\n", report.ForwardingEnabled, report.EgressInterface)
		for _, rule := range report.RulesPresent {
			fmt.Println("present:", rule)
		}
		for _, rule := range report.RulesMissing {
			fmt.Println("missing:", rule)
		}
		return nil
	},
}

var natDiagnoseCmd = &cobra.Command{
	Use:   "diagnose <vpc>",
	Short: "report likely causes of broken NAT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		findings, err := a.nat.DiagnoseNATIssues(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, finding := range findings {
			fmt.Println("-", finding)
		}
		return nil
	},
}

func init() {
	natCmd.AddCommand(natEnableCmd, natDisableCmd, natTestCmd, natVerifyCmd, natDiagnoseCmd)
}
