package main

import (
	"fmt"
	syslog "log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/connext/indra-sub007/chaintx"
	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/dispute"
	"github.com/connext/indra-sub007/ledger"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/util"
	"github.com/connext/indra-sub007/validator"

	_ "net/http/pprof"
)

var cmdHub = &cli.Command{
	Name:  "hub",
	Usage: "Start the channel ledger hub",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "node",
			Usage: "chain node rpc, ws://127.0.0.1:8546",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "root:123456@tcp(127.0.0.1:3306)/hub_ledger",
		},
		&cli.StringFlag{
			Name:  "redis",
			Usage: "127.0.0.1:6379",
		},
		&cli.StringFlag{
			Name:        "log-level",
			DefaultText: "info",
			Value:       "info",
		},
		&cli.StringFlag{
			Name:  "exchange-rate",
			Usage: "token base units per wei",
			Value: "1",
		},
		&cli.StringFlag{
			Name:    "hmac-secret",
			Usage:   "shared secret of the development signature scheme",
			EnvVars: []string{"HUB_HMAC_SECRET"},
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "chain transaction poll interval",
			Value: 15 * time.Second,
		},
	},
	Action: func(cctx *cli.Context) error {
		go func() {
			http.ListenAndServe(":6060", nil) //nolint:errcheck
		}()

		ctx := util.ReqContext(cctx)

		ll := cctx.String("log-level")
		if err := logging.SetLogLevel("*", ll); err != nil {
			return err
		}
		if err := logging.SetLogLevel("rpc", "error"); err != nil {
			return err
		}

		// connect backend node
		nodeAddr := cctx.String("node")
		if nodeAddr == "" {
			return fmt.Errorf("no api info")
		}

		client, closer, err := chaintx.NewClient(ctx, nodeAddr)
		if err != nil {
			return err
		}
		defer closer()

		head, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		log.Infof("node head: %v", head)

		newLogger := logger.New(
			syslog.New(os.Stdout, "\r\n", syslog.LstdFlags),
			logger.Config{
				SlowThreshold:             1000 * time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  true,
			},
		)

		db, err := gorm.Open(mysql.Open(cctx.String("db")), &gorm.Config{
			Logger: newLogger,
		})
		if err != nil {
			fmt.Println("failed to connect database ", err)
			os.Exit(0)
		}

		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Ping(); err != nil {
			return err
		}
		log.Info("sql ping success")

		// redis
		rds := redis.NewClient(&redis.Options{
			Addr:     cctx.String("redis"),
			Password: "",
			DB:       0,
		})
		defer rds.Close()
		pong, err := rds.Ping(ctx).Result()
		if err != nil {
			return err
		}
		log.Info("redis response ", pong)

		d := dao.NewDao(db, rds)

		hubCfg, err := d.GetHubConfig(db.WithContext(ctx))
		if err != nil {
			return err
		}
		if hubCfg == nil {
			return fmt.Errorf("hub config missing, run initdb first")
		}

		rate, err := decimal.NewFromString(cctx.String("exchange-rate"))
		if err != nil {
			return fmt.Errorf("bad exchange rate: %w", err)
		}

		cfg := common.DefaultLedgerConfig()
		cfg.HubAddress = hubCfg.HubAddress
		cfg.ContractAddress = hubCfg.ContractAddress
		cfg.ExchangeRate = rate

		secret := cctx.String("hmac-secret")
		if secret == "" {
			return fmt.Errorf("no hmac secret")
		}
		signer := common.NewHmacSigner(cfg.HubAddress, []byte(secret))
		val := validator.New(common.HmacVerifier([]byte(secret)))

		if err := metrics.Register(); err != nil {
			return err
		}

		chainSvc := chaintx.NewService(d, client, cfg.HubAddress, cctx.Duration("poll-interval"))
		ledgerSvc := ledger.NewService(d, val, chainSvc, signer, cfg)
		disputeSvc := dispute.NewService(d, chainSvc, ledgerSvc, cfg, time.Duration(hubCfg.DisputePeriod)*time.Second)

		chainSvc.Start(ctx)
		ledgerSvc.Start(ctx)
		disputeSvc.Start(ctx)

		<-ctx.Done()

		disputeSvc.Stop()
		ledgerSvc.Stop()
		chainSvc.Stop()

		os.Exit(0)
		return nil
	},
}
