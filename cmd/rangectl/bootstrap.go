package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/cyberrange/internal/config"
	exploitdomain "github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/deploy"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/mission"
	"github.com/r3e-network/cyberrange/internal/mission/verify"
	"github.com/r3e-network/cyberrange/internal/metrics"
	"github.com/r3e-network/cyberrange/internal/netalloc"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/platform/azurecompute"
	"github.com/r3e-network/cyberrange/internal/platform/cloudcompute"
	"github.com/r3e-network/cyberrange/internal/platform/database"
	"github.com/r3e-network/cyberrange/internal/platform/onprem"
	"github.com/r3e-network/cyberrange/internal/playbook"
	"github.com/r3e-network/cyberrange/internal/registry"
	"github.com/r3e-network/cyberrange/internal/secrets"
	"github.com/r3e-network/cyberrange/internal/store/postgres"
)

// app bundles every wired collaborator rangectl's subcommands act against.
// There is no HTTP layer between a subcommand and these components — it
// constructs and calls them in the same process, the way a library
// consumer would.
type app struct {
	cfg *config.Config
	log *logger.Logger

	store    *postgres.Store
	reg      registry.Store
	dispatch *platform.Dispatcher
	alloc    *netalloc.Allocator
	metrics  *metrics.Metrics
	oracle   secrets.Oracle
	runner   playbook.Runner

	deployEngines map[string]*deploy.Engine // keyed by backend kind
	missionEngine *mission.Engine
}

// buildApp wires every collaborator from cfg. It does not apply database
// migrations or seed the exploit library — that is "init"'s job.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	db, err := database.Open(ctx, cfg.Database.DSNOrDefault())
	if err != nil {
		return nil, fmt.Errorf("open persisted store: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	store := postgres.New(db)

	var reg registry.Store
	switch cfg.Registry.Backend {
	case "redis":
		reg, err = registry.NewRedisStore(cfg.Registry.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis registry: %w", err)
		}
	default:
		reg = registry.NewMemoryStore()
	}

	dispatcher := platform.NewDispatcher()
	for _, oc := range cfg.OnPrem {
		maxConcurrent := oc.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 4
		}
		dispatcher.Register(onprem.New(onprem.Config{
			Instance: oc.Instance, Host: oc.Host, User: oc.User, Token: oc.Token,
			VerifyTLS: oc.VerifyTLS, TemplateMap: oc.TemplateMap,
			StoragePool: oc.StoragePool, NodeName: oc.NodeName,
		}), maxConcurrent)
	}
	for _, cc := range cfg.CloudCompute {
		maxConcurrent := cc.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 4
		}
		adapter, err := cloudcompute.New(ctx, cloudcompute.Config{
			Instance: cc.Instance, Project: cc.Project, Region: cc.Region, Zone: cc.Zone,
			CredentialsFile: cc.CredentialsFile, AccessKey: cc.AccessKey, SecretKey: cc.SecretKey,
			DefaultSubnet: cc.DefaultSubnet, DefaultSecurityGroup: cc.DefaultSecurityGroup,
		})
		if err != nil {
			return nil, fmt.Errorf("build cloud compute adapter %s: %w", cc.Instance, err)
		}
		dispatcher.Register(adapter, maxConcurrent)
	}
	for _, ac := range cfg.AzureCompute {
		maxConcurrent := ac.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 4
		}
		adapter, err := azurecompute.New(azurecompute.Config{
			Instance: ac.Instance, TenantID: ac.TenantID, SubscriptionID: ac.SubscriptionID,
			ClientID: ac.ClientID, ClientSecret: ac.ClientSecret, ResourceGroup: ac.ResourceGroup,
			Location: ac.Location, VNet: ac.VNet, Subnet: ac.Subnet, NSG: ac.NSG,
		})
		if err != nil {
			return nil, fmt.Errorf("build azure compute adapter %s: %w", ac.Instance, err)
		}
		dispatcher.Register(adapter, maxConcurrent)
	}

	alloc, err := netalloc.New(cfg.Runtime.VLANRangeStart, cfg.Runtime.VLANRangeEnd,
		cfg.Runtime.CIDRBlock, cfg.Runtime.CIDRPrefixPerLab, cfg.Runtime.LeaseCooldown, log)
	if err != nil {
		return nil, fmt.Errorf("build network allocator: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	oracle := secrets.NewCachingOracle(secrets.EnvProvider{Prefix: "CYBERRANGE_SECRET_"})
	runner := playbook.NewCompositeRunner(
		playbook.NewSSHExecutor(), playbook.NewWinRMExecutor(),
		playbook.NewAnsibleExecutor("ansible-playbook"), oracle)

	deployEngines := make(map[string]*deploy.Engine, 3)
	for _, kind := range []string{"onprem", "cloudcompute", "azurecompute"} {
		deployEngines[kind] = deploy.NewEngine(alloc, dispatcher, reg, kind, cfg.Runtime.MaxConcurrentClones, log)
	}

	probeFactory := func(target playbook.Target, applied []exploitdomain.Exploit) []verify.Probe {
		return []verify.Probe{
			verify.TCPProbe{TestName: "tcp_reachable", Address: fmt.Sprintf("%s:%d", target.Host, target.Port)},
		}
	}

	missionEngine := mission.NewEngine(store, store, reg, dispatcher, runner, oracle, probeFactory, log)

	return &app{
		cfg: cfg, log: log, store: store, reg: reg, dispatch: dispatcher,
		alloc: alloc, metrics: m, oracle: oracle, runner: runner,
		deployEngines: deployEngines, missionEngine: missionEngine,
	}, nil
}

func (a *app) deployEngineFor(backendKind string) (*deploy.Engine, error) {
	e, ok := a.deployEngines[backendKind]
	if !ok {
		return nil, fmt.Errorf("unknown backend kind %q", backendKind)
	}
	return e, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
