// Command symnet-sim runs a standalone SymNet device simulator, useful for
// exercising symnet-ctl and integration tests without hardware.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"symnet/pkg/dspsim"
)

func main() {
	addr := flag.String("addr", ":48631", "listen address")
	udp := flag.Bool("udp", false, "listen on UDP instead of TCP")
	version := flag.String("version", "", "version banner line override")
	seed := flag.String("seed", "", "initial parameters, e.g. 101=32768,102=0")
	dev := flag.Bool("dev", true, "development-friendly console logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var banner []string
	if *version != "" {
		banner = []string{*version}
	}
	sim := dspsim.New(dspsim.Options{
		Version: banner,
		Logger:  logger,
	})
	defer sim.Close()

	if *seed != "" {
		if err := seedParams(sim, *seed); err != nil {
			fatalf("bad -seed: %v", err)
		}
	}

	var bound net.Addr
	if *udp {
		bound, err = sim.ListenUDP(*addr)
	} else {
		bound, err = sim.ListenTCP(*addr)
	}
	if err != nil {
		fatalf("listen: %v", err)
	}

	network := "tcp"
	if *udp {
		network = "udp"
	}
	logger.Info("simulator is running; press Ctrl+C to exit",
		zap.String("network", network), zap.Stringer("addr", bound))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func seedParams(sim *dspsim.Simulator, s string) error {
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return fmt.Errorf("%q is not rcn=value", pair)
		}
		rcn, err := strconv.Atoi(k)
		if err != nil {
			return err
		}
		val, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		sim.SetParam(rcn, val)
	}
	return nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
