// Command symnet-ctl is a one-shot control tool for SymNet DSP devices.
//
// Usage:
//
//	symnet-ctl -host 10.0.0.5 get 101
//	symnet-ctl -host 10.0.0.5 set 101 32768
//	symnet-ctl -host 10.0.0.5 watch 101 102 103
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"symnet/pkg/config"
	"symnet/pkg/dsp"
	"symnet/pkg/observability"
	"symnet/pkg/protocol"
	"symnet/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	host := flag.String("host", "", "device host (overrides config)")
	port := flag.Int("port", 0, "device port (overrides config)")
	trans := flag.String("transport", "", "tcp|udp (overrides config)")
	timeout := flag.Duration("timeout", 0, "per-command timeout (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *host != "" {
		cfg.Device.Host = *host
	}
	if *port != 0 {
		cfg.Device.Port = *port
	}
	if *trans != "" {
		cfg.Device.Transport = *trans
	}
	if *timeout != 0 {
		cfg.Device.CommandTimeoutMS = int(timeout.Milliseconds())
	}
	if cfg.Device.Host == "" {
		fatalf("no device host: pass -host or set device.host in config")
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	kind, err := transport.ParseKind(cfg.Device.Transport)
	if err != nil {
		fatalf("%v", err)
	}
	conn := dsp.New(cfg.Device.Host, dsp.Options{
		Port:           cfg.Device.Port,
		Transport:      kind,
		DialTimeout:    time.Duration(cfg.Device.DialTimeoutMS) * time.Millisecond,
		CommandTimeout: time.Duration(cfg.Device.CommandTimeoutMS) * time.Millisecond,
		RetryLimit:     cfg.Device.RetryLimit,
		Logger:         logger,
	})

	ctx := context.Background()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	verb, rest := args[0], args[1:]

	switch verb {
	case "get":
		rcn := intArg(rest, 0, "rcn")
		v, err := conn.GetParam(ctx, rcn)
		if err != nil {
			fatalf("get %d: %v", rcn, err)
		}
		if v == protocol.NoValue {
			fmt.Printf("%d: unset\n", rcn)
		} else {
			fmt.Printf("%d: %d\n", rcn, v)
		}

	case "set":
		rcn, val := intArg(rest, 0, "rcn"), intArg(rest, 1, "value")
		if err := conn.SetParamChecked(ctx, rcn, val); err != nil {
			fatalf("set %d: %v", rcn, err)
		}

	case "change":
		rcn, amount := intArg(rest, 0, "rcn"), intArg(rest, 1, "amount")
		if err := conn.ChangeParam(ctx, rcn, amount); err != nil {
			fatalf("change %d: %v", rcn, err)
		}

	case "block":
		start, count := intArg(rest, 0, "start"), intArg(rest, 1, "count")
		vals, err := conn.GetParamBlock(ctx, start, count)
		if err != nil {
			fatalf("block %d %d: %v", start, count, err)
		}
		for rcn := start; rcn < start+count; rcn++ {
			if v, ok := vals[rcn]; ok {
				fmt.Printf("%d: %d\n", rcn, v)
			}
		}

	case "preset":
		n, err := conn.GetPreset(ctx)
		if err != nil {
			fatalf("preset: %v", err)
		}
		fmt.Println(n)

	case "load-preset":
		n := intArg(rest, 0, "preset")
		if err := conn.LoadPreset(ctx, n); err != nil {
			fatalf("load-preset %d: %v", n, err)
		}

	case "version":
		lines, err := conn.GetVersion(ctx)
		if err != nil {
			fatalf("version: %v", err)
		}
		for _, l := range lines {
			fmt.Println(l)
		}

	case "ip":
		host, reported, err := conn.GetIP(ctx)
		if err != nil {
			fatalf("ip: %v", err)
		}
		fmt.Printf("connected to %s, device reports %s\n", host, reported)

	case "ping":
		start := time.Now()
		if err := conn.Ping(ctx); err != nil {
			fatalf("ping: %v", err)
		}
		fmt.Printf("pong in %s\n", time.Since(start).Round(time.Millisecond))

	case "flash":
		count := 8
		if len(rest) > 0 {
			count = intArg(rest, 0, "count")
		}
		if err := conn.Flash(ctx, count); err != nil {
			fatalf("flash: %v", err)
		}

	case "reboot":
		if err := conn.Reboot(ctx); err != nil {
			fatalf("reboot: %v", err)
		}

	case "sysstr":
		runSysStr(ctx, conn, rest)

	case "watch":
		runWatch(ctx, conn, rest)

	default:
		usage()
	}

	_ = conn.Disconnect(ctx)
}

func runSysStr(ctx context.Context, conn *dsp.Connection, args []string) {
	if len(args) < 2 {
		fatalf("usage: sysstr get|set <u.r.e.c.ch> [value]")
	}
	addr, err := parseSysAddr(args[1])
	if err != nil {
		fatalf("%v", err)
	}
	switch args[0] {
	case "get":
		v, err := conn.GetSystemString(ctx, addr)
		if err != nil {
			fatalf("sysstr get: %v", err)
		}
		fmt.Println(v)
	case "set":
		if len(args) < 3 {
			fatalf("usage: sysstr set <u.r.e.c.ch> <value>")
		}
		if err := conn.SetSystemString(ctx, addr, args[2]); err != nil {
			fatalf("sysstr set: %v", err)
		}
	default:
		fatalf("usage: sysstr get|set <u.r.e.c.ch> [value]")
	}
}

// runWatch subscribes to the given parameters (all of them when none are
// given) and prints pushed updates until interrupted.
func runWatch(ctx context.Context, conn *dsp.Connection, args []string) {
	params := make([]int, 0, len(args))
	for i := range args {
		params = append(params, intArg(args, i, "rcn"))
	}

	sub, err := conn.Subscribe(ctx, func(rcn, value int) {
		fmt.Printf("%s  #%d = %d\n", time.Now().Format("15:04:05.000"), rcn, value)
	}, params...)
	if err != nil {
		fatalf("subscribe: %v", err)
	}

	zap.L().Info("watching for parameter updates; press Ctrl+C to exit",
		zap.Ints("params", params))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	_ = conn.Unsubscribe(ctx, sub)
}

func parseSysAddr(s string) (dsp.SystemStringAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 5 {
		return dsp.SystemStringAddress{}, fmt.Errorf("bad address %q: want unit.resource.enum.card.channel", s)
	}
	n := make([]int, 5)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return dsp.SystemStringAddress{}, fmt.Errorf("bad address %q: %v", s, err)
		}
		n[i] = v
	}
	return dsp.SystemStringAddress{Unit: n[0], Resource: n[1], Enum: n[2], Card: n[3], Channel: n[4]}, nil
}

func intArg(args []string, i int, name string) int {
	if i >= len(args) {
		fatalf("missing argument: %s", name)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		fatalf("bad %s %q: %v", name, args[i], err)
	}
	return v
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: symnet-ctl [flags] <command> [args]

commands:
  get <rcn>                  read one parameter
  set <rcn> <value>          write one parameter (checked)
  change <rcn> <amount>      adjust a parameter by a signed amount
  block <start> <count>      read a block of parameters
  preset                     report the last loaded preset
  load-preset <n>            recall a preset
  version                    print the device version banner
  ip                         print the device's reported IP
  ping                       round-trip latency check
  flash [count]              blink the front panel
  reboot                     restart the device
  sysstr get|set <addr> [v]  system string access (addr: u.r.e.c.ch)
  watch [rcn ...]            print pushed updates until interrupted

flags:
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
