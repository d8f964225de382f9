package main

import (
	"fmt"
	syslog "log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/connext/indra-sub007/initdb"
	"github.com/connext/indra-sub007/util"
)

var cmdInitDb = &cli.Command{
	Name:  "initdb",
	Usage: "Create tables and write the hub config row",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "root:123456@tcp(127.0.0.1:3306)/hub_ledger",
		},
		&cli.StringFlag{
			Name:  "contract",
			Usage: "channel manager contract address",
		},
		&cli.StringFlag{
			Name:  "hub-address",
			Usage: "hub on-chain account address",
		},
		&cli.Int64Flag{
			Name:  "dispute-period",
			Usage: "contract challenge window in seconds",
			Value: 3600,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

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

		if err := initdb.InitDatabase(ctx, db,
			cctx.String("contract"),
			cctx.String("hub-address"),
			cctx.Int64("dispute-period"),
		); err != nil {
			return err
		}

		log.Info("database initialized")
		return nil
	},
}
