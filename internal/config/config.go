package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cloutprotocol/zatoshid/internal/core/application"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/internal/infrastructure/db"
	"github.com/cloutprotocol/zatoshid/internal/infrastructure/explorer"
	badgerleasestore "github.com/cloutprotocol/zatoshid/internal/infrastructure/lease-store/badger"
	inmemoryleasestore "github.com/cloutprotocol/zatoshid/internal/infrastructure/lease-store/inmemory"
	timescheduler "github.com/cloutprotocol/zatoshid/internal/infrastructure/scheduler/gocron"
	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

var (
	supportedDbs = supportedType{
		"badger": {},
	}
	supportedLeaseStores = supportedType{
		"inmemory": {},
		"badger":   {},
	}
	supportedNetworks = supportedType{
		string(zcash.Mainnet): {},
		string(zcash.Testnet): {},
		string(zcash.Regtest): {},
	}
)

type Config struct {
	Datadir    string
	Port       uint32
	LogLevel   int
	AuthSecret string

	DbType         string
	DbDir          string
	LeaseStoreType string

	Network     string
	ExplorerURL string
	ExplorerRPS int

	InscriptionValue uint64
	CommitFee        uint64
	RevealFee        uint64
	SwapFee          uint64

	LeaseTTL         int64
	ContextTTL       int64
	PropagationDelay int64

	repo       ports.RepoManager
	leaseStore ports.LeaseStore
	explorer   ports.Explorer
	scheduler  ports.SchedulerService
	svc        application.Service
}

func (c *Config) String() string {
	clone := *c
	if clone.AuthSecret != "" {
		clone.AuthSecret = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir        = defaultAppDataDir("zatoshid")
	DefaultPort           = 7080
	defaultLogLevel       = 4
	defaultDbType         = "badger"
	defaultLeaseStoreType = "badger"
	defaultNetwork        = string(zcash.Mainnet)
	defaultExplorerRPS    = 4

	defaultInscriptionValue = 60000
	defaultCommitFee        = 10000
	defaultRevealFee        = 10000
	defaultSwapFee          = 10000

	defaultLeaseTTL         = 120  // seconds
	defaultContextTTL       = 1800 // seconds
	defaultPropagationDelay = 2    // seconds
)

// env returns a list of strings prefixed with `ZATOSHID_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("ZATOSHID_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	AuthSecret = &cli.StringFlag{
		Usage: "Shared secret for request authentication, empty disables auth",
		Name:  "auth-secret", EnvVars: env("AUTH_SECRET"),
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	LeaseStoreType = &cli.StringFlag{
		Usage: "Lease store type (badger, inmemory)",
		Name:  "lease-store-type", EnvVars: env("LEASE_STORE_TYPE"),
		Value: defaultLeaseStoreType,
	}

	Network = &cli.StringFlag{
		Usage: "Network to operate on (mainnet, testnet, regtest)",
		Name:  "network", EnvVars: env("NETWORK"),
		Value: defaultNetwork,
	}

	ExplorerURL = &cli.StringFlag{
		Usage: "Chain explorer API URL",
		Name:  "explorer-url", EnvVars: env("EXPLORER_URL"),
	}

	ExplorerRPS = &cli.IntFlag{
		Usage: "Maximum explorer requests per second",
		Name:  "explorer-rps", EnvVars: env("EXPLORER_RPS"),
		Value: defaultExplorerRPS,
	}

	InscriptionValue = &cli.Uint64Flag{
		Usage: "Value in zatoshis carried by each inscribed output",
		Name:  "inscription-value", EnvVars: env("INSCRIPTION_VALUE"),
		Value: uint64(defaultInscriptionValue),
	}

	CommitFee = &cli.Uint64Flag{
		Usage: "Flat fee in zatoshis for commit transactions",
		Name:  "commit-fee", EnvVars: env("COMMIT_FEE"),
		Value: uint64(defaultCommitFee),
	}

	RevealFee = &cli.Uint64Flag{
		Usage: "Flat fee in zatoshis for reveal transactions",
		Name:  "reveal-fee", EnvVars: env("REVEAL_FEE"),
		Value: uint64(defaultRevealFee),
	}

	SwapFee = &cli.Uint64Flag{
		Usage: "Flat fee in zatoshis for swap fill transactions",
		Name:  "swap-fee", EnvVars: env("SWAP_FEE"),
		Value: uint64(defaultSwapFee),
	}

	// TODO: Make this a cli.DurationFlag.
	LeaseTTL = &cli.Int64Flag{
		Usage: "Output lease duration in seconds",
		Name:  "lease-ttl", EnvVars: env("LEASE_TTL"),
		Value: int64(defaultLeaseTTL),
	}

	// TODO: Make this a cli.DurationFlag.
	ContextTTL = &cli.Int64Flag{
		Usage: "How long an unsigned context stays valid, in seconds",
		Name:  "context-ttl", EnvVars: env("CONTEXT_TTL"),
		Value: int64(defaultContextTTL),

		DefaultText: fmt.Sprintf("%d (%s)", defaultContextTTL,
			time.Duration(defaultContextTTL)*time.Second),
	}

	PropagationDelay = &cli.Int64Flag{
		Usage: "Seconds to wait after a commit broadcast before building the reveal",
		Name:  "propagation-delay", EnvVars: env("PROPAGATION_DELAY"),
		Value: int64(defaultPropagationDelay),
	}
)

var Flags = []cli.Flag{
	Datadir,
	Port,
	LogLevel,
	AuthSecret,
	DbType,
	LeaseStoreType,
	Network,
	ExplorerURL,
	ExplorerRPS,
	InscriptionValue,
	CommitFee,
	RevealFee,
	SwapFee,
	LeaseTTL,
	ContextTTL,
	PropagationDelay,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	explorerURL := c.String(ExplorerURL.Name)
	if explorerURL == "" {
		return nil, fmt.Errorf("missing explorer url")
	}

	return &Config{
		Datadir:          c.String(Datadir.Name),
		Port:             uint32(c.Uint(Port.Name)),
		LogLevel:         c.Int(LogLevel.Name),
		AuthSecret:       c.String(AuthSecret.Name),
		DbType:           c.String(DbType.Name),
		DbDir:            dbPath,
		LeaseStoreType:   c.String(LeaseStoreType.Name),
		Network:          c.String(Network.Name),
		ExplorerURL:      explorerURL,
		ExplorerRPS:      c.Int(ExplorerRPS.Name),
		InscriptionValue: c.Uint64(InscriptionValue.Name),
		CommitFee:        c.Uint64(CommitFee.Name),
		RevealFee:        c.Uint64(RevealFee.Name),
		SwapFee:          c.Uint64(SwapFee.Name),
		LeaseTTL:         c.Int64(LeaseTTL.Name),
		ContextTTL:       c.Int64(ContextTTL.Name),
		PropagationDelay: c.Int64(PropagationDelay.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func defaultAppDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedLeaseStores.supports(c.LeaseStoreType) {
		return fmt.Errorf(
			"lease store type not supported, please select one of: %s",
			supportedLeaseStores,
		)
	}
	if !supportedNetworks.supports(c.Network) {
		return fmt.Errorf(
			"network not supported, please select one of: %s", supportedNetworks,
		)
	}
	if c.InscriptionValue == 0 {
		return fmt.Errorf("inscription value must be greater than 0")
	}
	if c.InscriptionValue <= zcash.DustThreshold {
		return fmt.Errorf(
			"inscription value must be greater than the dust threshold %d",
			zcash.DustThreshold,
		)
	}
	if c.CommitFee == 0 || c.RevealFee == 0 {
		return fmt.Errorf("commit and reveal fees must be greater than 0")
	}
	if c.LeaseTTL < 1 {
		return fmt.Errorf("invalid lease ttl, must be at least 1 second")
	}
	if c.ContextTTL < 1 {
		return fmt.Errorf("invalid context ttl, must be at least 1 second")
	}
	if c.PropagationDelay < 0 {
		return fmt.Errorf("propagation delay must not be negative")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.leaseStoreService(); err != nil {
		return err
	}
	if err := c.explorerService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) SchedulerService() ports.SchedulerService {
	return c.scheduler
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) repoManager() error {
	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType: c.DbType,
		DataStoreDir:  c.DbDir,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) leaseStoreService() error {
	var svc ports.LeaseStore
	var err error
	switch c.LeaseStoreType {
	case "inmemory":
		svc = inmemoryleasestore.NewLeaseStore()
	case "badger":
		logger := log.New()
		svc, err = badgerleasestore.NewLeaseStore(c.DbDir, logger)
	default:
		err = fmt.Errorf("unknown lease store type")
	}
	if err != nil {
		return err
	}

	c.leaseStore = svc
	return nil
}

func (c *Config) explorerService() error {
	svc, err := explorer.NewService(
		c.ExplorerURL, zcash.Network(c.Network),
		explorer.WithRequestsPerSecond(c.ExplorerRPS),
	)
	if err != nil {
		return err
	}

	c.explorer = svc
	return nil
}

func (c *Config) schedulerService() error {
	c.scheduler = timescheduler.NewScheduler()
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.repo, c.explorer, c.leaseStore, c.scheduler,
		zcash.Network(c.Network),
		c.InscriptionValue, c.CommitFee, c.RevealFee, c.SwapFee,
		time.Duration(c.LeaseTTL)*time.Second,
		time.Duration(c.ContextTTL)*time.Second,
		time.Duration(c.PropagationDelay)*time.Second,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
