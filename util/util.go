package util

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

// ReqContext returns a context cancelled on SIGTERM/SIGINT.
func ReqContext(cctx *cli.Context) context.Context {
	tCtx := cctx.Context
	if tCtx == nil {
		tCtx = context.Background()
	}

	ctx, done := context.WithCancel(tCtx)
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	return ctx
}

func RandHexStr(length int) string {
	const hexStr = "0123456789abcdef"
	b := make([]byte, length)
	for i := range b {
		b[i] = hexStr[rand.Intn(len(hexStr))]
	}
	return string(b)
}
