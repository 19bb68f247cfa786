package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workloadCmd = &cobra.Command{
	Use:   "workload",
	Short: "deploy test workloads into subnets",
}

var workloadPort int

var workloadDeployCmd = &cobra.Command{
	Use:   "deploy <vpc> <public|private>",
	Short: "start an HTTP listener inside the subnet's namespace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		info, err := a.workload.Deploy(cmd.Context(), args[0], args[1], workloadPort)
		if err != nil {
			return err
		}
		fmt.Printf("workload listening in %s at %s\n", info.Namespace, info.URL)
		return nil
	},
}

var workloadDescribeCmd = &cobra.Command{
	Use:   "describe <vpc> <public|private>",
	Short: "print the subnet's workload endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		info, err := a.workload.Describe(cmd.Context(), args[0], args[1], workloadPort)
		if err != nil {
			return err
		}
		fmt.Printf("namespace %s, endpoint %s\n", info.Namespace, info.URL)
		return nil
	},
}

func init() {
	workloadDeployCmd.Flags().IntVarP(&workloadPort, "port", "p", 8080, "listener port")
	workloadDescribeCmd.Flags().IntVarP(&workloadPort, "port", "p", 8080, "listener port")
	workloadCmd.AddCommand(workloadDeployCmd, workloadDescribeCmd)
}
