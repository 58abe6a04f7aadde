// Command server runs the sharescreen session server on its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/logging"
	sig "github.com/tomaslejdung/sharescreen/pkg/signal"
)

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	flags.Int("port", 8080, "server port")
	flags.String("host", "", "interface to listen on")
	flags.Bool("dev", false, "development mode")
	flags.String("log-file", "", "write logs to this file")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("SHARESCREEN")
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	// PORT is set by most container platforms
	_ = v.BindEnv("port", "SHARESCREEN_PORT", "PORT")

	logger, err := logging.New(logging.Options{
		Dev:     v.GetBool("dev"),
		File:    v.GetString("log-file"),
		Service: "sharescreen-server",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", v.GetString("host"), v.GetInt("port"))
	logger.Info("join with: sharescreen --server http://<this-host>:<port> -c <room>",
		zap.String("example_room", sig.GenerateRoomCode()))
	if err := sig.NewServer(logger.Named("server")).StartServer(ctx, addr); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
