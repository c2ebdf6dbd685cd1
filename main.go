package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conroydamien/eth-squid-station/api"
	"github.com/conroydamien/eth-squid-station/collect/ethrpc"
	"github.com/conroydamien/eth-squid-station/db/bolt"
	"github.com/conroydamien/eth-squid-station/predict"
	"github.com/conroydamien/eth-squid-station/publish"
)

const usage = `
eth-squid-station [-c CONFIGFILE] [-d DATADIR] COMMAND [-h | -help] [args...]

Commands:
	start        (start the oracle)
	stop         (terminate the oracle)
	version      (show app version)
	status       (show application status)
	gasprice     (show the gas price recommendation, in gwei)
	predicttable (show the hashpower accepting each gas price)
	waittime     (expected confirmation time of a gas price)
	confirmtable (show the confirmation model table)
	setdebug     (turn on/off debug-level logging)
	metrics      (show app metrics)
	config       (show app config settings)

`

const version = "0.1.0"

func main() {
	var (
		configFile, dataDir string
	)
	flag.CommandLine.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.CommandLine.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	flag.StringVar(&configFile, "c", "",
		fmt.Sprintf("Path to config file (alternatively, use %s env var).", configFileEnv))
	flag.StringVar(&dataDir, "d", "",
		fmt.Sprintf("Path to data directory (alternatively, use %s env var).", dataDirEnv))
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.CommandLine.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatal(err)
	}

	apiclient := api.NewClient(api.Config{
		Host:    cfg.AppRPC.Host,
		Port:    cfg.AppRPC.Port,
		Timeout: 15,
	})

	switch args[0] {
	case "start":
		runOracle(args, cfg)
	case "version":
		fmt.Println(version)
	case "stop":
		stop(args, apiclient)
	case "status":
		status(args, apiclient)
	case "gasprice":
		gasPrice(args, apiclient)
	case "predicttable":
		predictTable(args, apiclient)
	case "waittime":
		waitTime(args, apiclient)
	case "confirmtable":
		confirmTable(args, apiclient)
	case "setdebug":
		setDebug(args, apiclient)
	case "metrics":
		appMetrics(args, apiclient)
	case "config":
		appConfig(args, apiclient)
	default:
		log.Fatalf("Invalid command '%s'", args[0])
	}
}

func runOracle(args []string, cfg config) {
	const usage = `
eth-squid-station start

Start the program. The program will follow the chain head through the node's
JSON-RPC API, lagging it by a few blocks, and publish the gas price
recommendation and prediction table after every block.

Use eth-squid-station status to check the collection / model status.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		log.Fatal(fmt.Errorf("invalid config: %v", err))
	}

	dLog := NewDebugLog(cfg.LogFile, cfg.Log)
	defer dLog.Close()
	logger := dLog.Logger

	oracle, client, err := loadOracle(cfg, logger)
	if err != nil {
		logger.Fatal("loadOracle", zap.Error(err))
	}
	defer client.Close()

	service, err := NewService(oracle, dLog, cfg)
	if err != nil {
		logger.Fatal("NewService", zap.Error(err))
	}

	os.Stdout.Close()
	os.Stderr.Close()
	os.Stdin.Close()

	var g errgroup.Group
	g.Go(func() error {
		err := oracle.Run()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		service.Shutdown(ctx)
		return err
	})
	g.Go(func() error {
		err := service.ListenAndServe()
		if err != nil {
			oracle.Stop()
		}
		return err
	})

	// Signal handling
	sigc := make(chan os.Signal, 3)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigc
		oracle.Stop()
	}()

	err = g.Wait()
	// Blocks until it is safely shutdown. It is idempotent, so no harm if
	// the oracle is already stopped.
	oracle.Stop()
	if err != nil {
		logger.Fatal("Exiting", zap.Error(err))
	}
}

// loadOracle opens the stores, connects to the node and sets up the oracle.
// The returned client must be closed after the oracle has stopped.
func loadOracle(cfg config, logger *zap.Logger) (*Oracle, *ethrpc.Client, error) {
	var closers []func() error
	fail := func(err error) (*Oracle, *ethrpc.Client, error) {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	txdb, err := loadTxDB(cfg)
	if err != nil {
		return fail(fmt.Errorf("loadTxDB: %v", err))
	}
	closers = append(closers, txdb.Close)

	blkdb, err := loadBlockStatDB(cfg)
	if err != nil {
		return fail(fmt.Errorf("loadBlockStatDB: %v", err))
	}
	closers = append(closers, blkdb.Close)

	modeldb, err := loadModelDB(cfg)
	if err != nil {
		return fail(fmt.Errorf("loadModelDB: %v", err))
	}
	closers = append(closers, modeldb.Close)

	sink, err := publish.NewFileSink(publish.Config{OutDir: cfg.OutDir, Logger: logger.Named("publish")})
	if err != nil {
		return fail(fmt.Errorf("NewFileSink: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Collect.FetchTimeout)*time.Second)
	defer cancel()
	client, err := ethrpc.Dial(ctx, cfg.EthRPC)
	if err != nil {
		return fail(fmt.Errorf("ethrpc.Dial: %v", err))
	}
	closers = append(closers, func() error { client.Close(); return nil })

	oracleConfig := cfg.OracleConfig
	getHeight, getBlock := client.Getters()
	oracleConfig.Collect.GetHeight = getHeight
	// About one day's worth of blocks
	oracleConfig.Collect.GetBlock = timedBlockGetter(getBlock, newTimer("getblock", 60*60*24/15))
	oracleConfig.sink = sink
	oracleConfig.logger = logger

	oracle, err := NewOracle(txdb, blkdb, modeldb, oracleConfig)
	if err != nil {
		return fail(fmt.Errorf("NewOracle: %v", err))
	}
	return oracle, client, nil
}

func loadTxDB(cfg config) (TxDB, error) {
	const dbFileName = "tx.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadTxDB(dbfile)
}

func loadBlockStatDB(cfg config) (BlockStatDB, error) {
	const dbFileName = "blockstat.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadBlockStatDB(dbfile)
}

func loadModelDB(cfg config) (predict.DB, error) {
	const dbFileName = "model.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadModelDB(dbfile)
}
