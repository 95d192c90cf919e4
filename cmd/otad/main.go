package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/tarm/serial"
	"golang.org/x/term"

	"github.com/uartota/uartota/ota"
	"github.com/uartota/uartota/uart"
	"github.com/uartota/uartota/xmodem"
)

var (
	portName  = flag.String("port", "", "serial device (default: stdin/stdout)")
	baud      = flag.Int("baud", 115200, "serial baud rate")
	imagePath = flag.String("image", "", "staging image file")
	imageSize = flag.Int64("image-size", 1<<20, "staging image size in bytes")
	backup    = flag.String("backup", "", "previous image used by {back")
	pubKey    = flag.String("pubkey", "", "RSA public key for {s (PEM or authorized_keys)")
	logFile   = flag.String("log", "", "write protocol log to file instead of glog")
	mqttURL   = flag.String("mqtt", "", "publish command results to this MQTT broker URL")
	noEcho    = flag.Bool("no-echo", false, "do not echo operator input")
	trace     = flag.Bool("trace", false, "log every byte on the line at debug level")
	help      = flag.Bool("h", false, "show help")
	version   = flag.Bool("version", false, "show version")
)

const versionString = "otad version 0.1.0"

// exitRestart tells the supervisor to boot the staged image.
const exitRestart = 3

func main() {
	flag.Parse()
	defer glog.Flush()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "otad: -image is required")
		showUsage(2)
	}

	os.Exit(run())
}

func run() int {
	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	var logger xmodem.Logger = xmodem.GlogLogger{}
	if *logFile != "" {
		fl, err := xmodem.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer fl.Close()
		logger = fl
	}

	img, err := ota.OpenFileImage(*imagePath, *imageSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer img.Close()

	in, out, closeLine, err := openLine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLine()

	rx := uart.NewChannel(uart.DefaultCapacity)
	go func() {
		if err := uart.Pump(ctx, in, rx); err != nil && ctx.Err() == nil {
			glog.Errorf("serial read: %v", err)
		}
	}()
	port := uart.NewPort(rx, out)

	restart := false
	updater := &ota.SlotUpdater{
		Image:      img,
		BackupPath: *backup,
		OnRestart: func() error {
			if err := img.Sync(); err != nil {
				return err
			}
			restart = true
			cancel()
			return nil
		},
	}

	config := ota.DefaultConfig()
	config.Echo = !*noEcho

	opts := []ota.Option{
		ota.WithConfig(config),
		ota.WithLogger(logger),
		ota.WithUpdater(updater),
		ota.WithTransferOptions(
			xmodem.WithLogger(logger),
			xmodem.WithCallbacks(&xmodem.Callbacks{
				OnProgress: func(transferred, total int64, rate float64) {
					glog.V(1).Infof("upload %d/%d bytes (%.0f bytes/s)", transferred, total, rate)
				},
			}),
		),
	}

	if *pubKey != "" {
		key, err := ota.LoadPublicKey(*pubKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		opts = append(opts, ota.WithVerifier(&ota.RSAVerifier{Key: key}))
	}

	if mem, err := os.Open("/proc/self/mem"); err == nil {
		defer mem.Close()
		opts = append(opts, ota.WithMemory(mem))
	} else {
		glog.Warningf("memory peek disabled: %v", err)
	}

	if *mqttURL != "" {
		pub, err := newEventPublisher(*mqttURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: mqtt: %v\n", err)
			return 1
		}
		defer pub.Close()
		opts = append(opts, ota.WithResultHook(pub.Publish))
	}

	var link xmodem.Link = port
	if *trace {
		link = xmodem.NewTraceLink(port, logger)
	}

	d := ota.NewDispatcher(link, img, opts...)
	err = d.Serve(ctx)

	if restart {
		glog.Infof("restart requested")
		return exitRestart
	}
	if err != nil && ctx.Err() == nil {
		glog.Errorf("serve: %v", err)
		return 1
	}
	return 0
}

// openLine opens the serial port, or puts the terminal on stdin into raw
// mode so single bytes reach the dispatcher.
func openLine() (io.Reader, io.Writer, func(), error) {
	if *portName != "" {
		sp, err := serial.OpenPort(&serial.Config{Name: *portName, Baud: *baud})
		if err != nil {
			return nil, nil, nil, err
		}
		glog.Infof("listening on %s at %d baud", *portName, *baud)
		return sp, sp, func() { sp.Close() }, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, err
	}
	return os.Stdin, os.Stdout, func() { term.Restore(fd, state) }, nil
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - serial firmware update console

Usage: %s -image FILE [options]

Options:
  -port DEV         serial device (default: stdin/stdout)
  -baud N           baud rate (default: 115200)
  -image FILE       staging image file
  -image-size N     staging image size in bytes (default: 1048576)
  -backup FILE      previous image restored by {back
  -pubkey FILE      RSA public key checked by {s
  -log FILE         protocol log file (default: glog)
  -mqtt URL         publish command results, e.g. mqtt://broker:1883/site
  -no-echo          do not echo operator input
  -trace            log every byte on the line (needs -v=2 or -log)
  -h                show this help message
  --version         show version

Commands on the line:
  {u<len> [<off>]   receive <len> bytes by XMODEM
  {p[<len> [<off>]] print image bytes
  {h[<len> [<off>]] sha256 of image bytes
  {s<hex>...        check signature of the last digest
  {cancel {restart {back
  {d<m|f><addr> [<len>]

Exit status %d means restart into the staged image.

`, versionString, os.Args[0], exitRestart)
	os.Exit(exitcode)
}
