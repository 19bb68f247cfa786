package workload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

type fakeSubnets struct {
	ips map[string]string
}

func (f *fakeSubnets) GetNamespaceIP(ns string) string {
	return f.ips[ns]
}

func newTestManager(t *testing.T) (*Manager, *network.FakeDriver) {
	t.Helper()
	driver := network.NewFakeDriver()
	ns := naming.Namespace("web", naming.SubnetPublic)
	driver.CreateNamespace(ns)
	subnets := &fakeSubnets{ips: map[string]string{ns: "10.0.1.2"}}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewManager(subnets, driver, log), driver
}

func TestDeploy(t *testing.T) {
	m, driver := newTestManager(t)

	info, err := m.Deploy(context.Background(), "web", "public", 8080)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if info.URL != "http://10.0.1.2:8080/" {
		t.Errorf("URL = %s, want http://10.0.1.2:8080/", info.URL)
	}

	var launched bool
	for _, cmd := range driver.Commands {
		if strings.Contains(cmd, "http.server 8080") {
			launched = true
		}
	}
	if !launched {
		t.Errorf("listener was not started: %v", driver.Commands)
	}
}

func TestDeployErrors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Deploy(ctx, "web", "dmz", 8080); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("bad type = %v, want ErrInvalidArgument", err)
	}
	if _, err := m.Deploy(ctx, "web", "public", 0); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("bad port = %v, want ErrInvalidArgument", err)
	}
	if _, err := m.Deploy(ctx, "web", "private", 8080); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("missing subnet = %v, want ErrNotFound", err)
	}
}

func TestDescribe(t *testing.T) {
	m, driver := newTestManager(t)

	info, err := m.Describe(context.Background(), "web", "public", 9000)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.URL != "http://10.0.1.2:9000/" {
		t.Errorf("URL = %s, want http://10.0.1.2:9000/", info.URL)
	}
	// Describe is read-only.
	for _, cmd := range driver.Commands {
		if strings.Contains(cmd, "http.server") {
			t.Errorf("Describe started a listener: %v", driver.Commands)
		}
	}
}
