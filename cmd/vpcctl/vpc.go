package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var vpcCmd = &cobra.Command{
	Use:   "vpc",
	Short: "manage VPCs",
}

var vpcCreateCmd = &cobra.Command{
	Use:   "create <name> <cidr>",
	Short: "create a VPC with its bridge and gateway",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := a.vpcs.CreateVPC(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("created VPC %s (bridge %s, gateway %s)\n", rec.Name, rec.Bridge, rec.Gateway)
		return nil
	},
}

var vpcDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "delete a VPC and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.vpcs.DeleteVPC(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, removed := range result.Removed {
			fmt.Println("removed", removed)
		}
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

var vpcListCmd = &cobra.Command{
	Use:   "list",
	Short: "list VPCs with live bridge state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		summaries, err := a.vpcs.ListVPCs(cmd.Context())
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "CIDR", "Bridge", "Gateway", "State"})
		for _, s := range summaries {
			state := "down"
			if s.BridgeUp {
				state = "up"
			}
			table.Append([]string{s.Name, s.CIDR, s.Bridge, s.Gateway, state})
		}
		table.Render()
		return nil
	},
}

func init() {
	vpcCmd.AddCommand(vpcCreateCmd, vpcDeleteCmd, vpcListCmd)
}
