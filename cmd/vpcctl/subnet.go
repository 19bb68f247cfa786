package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var subnetCmd = &cobra.Command{
	Use:   "subnet",
	Short: "manage subnets",
}

var subnetAddCmd = &cobra.Command{
	Use:   "add <vpc> <public|private> <cidr>",
	Short: "add a subnet to a VPC",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		info, err := a.subnets.AddSubnet(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("created subnet %s (%s, gateway %s)\n", info.Namespace, info.Address, info.Gateway)
		return nil
	},
}

var subnetDeleteCmd = &cobra.Command{
	Use:   "delete <vpc> <public|private>",
	Short: "delete a subnet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.subnets.DeleteSubnet(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted subnet %s/%s\n", args[0], args[1])
		return nil
	},
}

var subnetListCmd = &cobra.Command{
	Use:   "list",
	Short: "list subnets with addresses and routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		infos, err := a.subnets.ListSubnets(cmd.Context())
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Namespace", "VPC", "Type", "Address", "Gateway", "Routes"})
		for _, info := range infos {
			table.Append([]string{
				info.Namespace, info.VPC, string(info.Type),
				info.Address, info.Gateway, fmt.Sprintf("%d", len(info.Routes)),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	subnetCmd.AddCommand(subnetAddCmd, subnetDeleteCmd, subnetListCmd)
}
