package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var peeringCmd = &cobra.Command{
	Use:   "peering",
	Short: "manage VPC peerings",
}

var peeringCreateCmd = &cobra.Command{
	Use:   "create <vpcA> <vpcB>",
	Short: "peer two VPCs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.peerings.CreatePeering(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if result.AlreadyExisted {
			fmt.Println("peering already exists")
			return nil
		}
		fmt.Printf("created peering (%s <-> %s), %d routes injected\n",
			result.LinkA, result.LinkB, len(result.RoutesAdded))
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

var peeringDeleteCmd = &cobra.Command{
	Use:   "delete <vpcA> <vpcB>",
	Short: "remove a peering, its links and injected routes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		result, err := a.peerings.DeletePeering(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("deleted peering, %d routes removed\n", len(result.RoutesRemoved))
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
		return nil
	},
}

var peeringListCmd = &cobra.Command{
	Use:   "list",
	Short: "list peerings with live-reconciled status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := a.peerings.ListPeerings(cmd.Context())
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"VPC A", "VPC B", "Link A", "Link B", "Status"})
		for _, e := range entries {
			table.Append([]string{e.Record.VPCA, e.Record.VPCB, e.Record.LinkA, e.Record.LinkB, e.Status})
		}
		table.Render()
		return nil
	},
}

var peeringTestCmd = &cobra.Command{
	Use:   "test <vpcA> <vpcB>",
	Short: "probe cross-VPC reachability and compare against the record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		report, err := a.peerings.CheckIsolation(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("probe %s -> %s (%s): reachable=%v peering=%v\n",
			report.FromNamespace, report.ToNamespace, report.TargetIP,
			report.Reachable, report.PeeringExists)
		if report.Healthy {
			fmt.Println("state matches configuration")
		} else {
			fmt.Println("state does NOT match configuration")
		}
		return nil
	},
}

func init() {
	peeringCmd.AddCommand(peeringCreateCmd, peeringDeleteCmd, peeringListCmd, peeringTestCmd)
}
