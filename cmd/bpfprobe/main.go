// bpfprobe resolves tracing-script attach point specs into kernel
// probes.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-bpfprobe/cmd/bpfprobe/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var c cli.CLI
	opts := append(cli.KongOptions(), kong.BindTo(ctx, (*context.Context)(nil)))
	kctx := kong.Parse(&c, opts...)
	err := kctx.Run(&c)
	cancel()
	kctx.FatalIfErrorf(err)
}
