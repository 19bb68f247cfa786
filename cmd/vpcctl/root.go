package main

import (
	"context"
	"fmt"

	"github.com/coreos/go-iptables/iptables"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Holladworld/vpc-project/internal/db"
	"github.com/Holladworld/vpc-project/internal/firewall"
	"github.com/Holladworld/vpc-project/internal/nat"
	"github.com/Holladworld/vpc-project/internal/peering"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/internal/subnet"
	"github.com/Holladworld/vpc-project/internal/vpc"
	"github.com/Holladworld/vpc-project/internal/workload"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/network"
	"github.com/Holladworld/vpc-project/pkg/probe"
)

const defaultDBPath = "/var/lib/vpcctl/vpc.db"

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vpcctl",
	Short: "single-host VPC control plane",
	Long: `vpcctl orchestrates VPCs on one Linux host: bridges for VPC routers,
network namespaces for subnets, veth pairs for wiring, iptables for NAT and
per-subnet firewall policy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "path to the record database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(vpcCmd)
	rootCmd.AddCommand(subnetCmd)
	rootCmd.AddCommand(peeringCmd)
	rootCmd.AddCommand(natCmd)
	rootCmd.AddCommand(firewallCmd)
	rootCmd.AddCommand(workloadCmd)
}

// Execute runs the command tree.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		return err
	}
	return nil
}

// app wires every manager over the shared driver, stores and locker.
type app struct {
	log      *logrus.Logger
	vpcs     *vpc.Registry
	subnets  *subnet.Manager
	peerings *peering.Manager
	nat      *nat.Manager
	firewall *firewall.Manager
	workload *workload.Manager
}

func newApp(ctx context.Context) (*app, error) {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx, database); err != nil {
		return nil, err
	}

	vpcRepo := store.NewSQLiteVPCs(database)
	peeringRepo := store.NewSQLitePeerings(database)

	driver := network.NewLinuxDriver()
	locker := lock.NewKeyedLocker()
	prober := probe.New(driver)

	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize iptables: %w", err)
	}

	subnets := subnet.NewManager(vpcRepo, driver, locker, log)
	return &app{
		log:      log,
		vpcs:     vpc.NewRegistry(vpcRepo, peeringRepo, driver, locker, log),
		subnets:  subnets,
		peerings: peering.NewManager(peeringRepo, vpcRepo, subnets, driver, prober, locker, log),
		nat:      nat.NewManager(vpcRepo, subnets, ipt, driver, prober, locker, log),
		firewall: firewall.NewManager(subnets, driver, locker, log),
		workload: workload.NewManager(subnets, driver, log),
	}, nil
}
