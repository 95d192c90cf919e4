package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"
	"github.com/tarm/serial"

	"github.com/uartota/uartota/ota"
	"github.com/uartota/uartota/uart"
	"github.com/uartota/uartota/xmodem"
)

var (
	portName = flag.String("port", "", "serial device connected to the target")
	baud     = flag.Int("baud", 115200, "serial baud rate")
	offset   = flag.Int64("offset", 0, "image offset to write at")
	use1K    = flag.Bool("1k", true, "use 1024 byte blocks")
	signKey  = flag.String("sign", "", "RSA private key; send a signature after upload")
	doHash   = flag.Bool("hash", false, "ask the target for the sha256 of the written range")
	logFile  = flag.String("log", "", "write protocol log to file")
	quiet    = flag.Bool("q", false, "no progress bar")
	noEcho   = flag.Bool("no-echo", false, "target runs with -no-echo")
	help     = flag.Bool("h", false, "show help")
	version  = flag.Bool("version", false, "show version")
)

const versionString = "otasend version 0.1.0"

// replyTimeout bounds the wait for each status line from the target.
const replyTimeout = 5 * time.Second

// echoTimeout bounds the wait for each echoed command byte.
const echoTimeout = 200 * time.Millisecond

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

	files := flag.Args()
	if len(files) != 1 || *portName == "" {
		fmt.Fprintf(os.Stderr, "%s: need -port and exactly one image file\n", os.Args[0])
		showUsage(1)
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	if err := run(ctx, files[0]); err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var logger xmodem.Logger = xmodem.GlogLogger{}
	if *logFile != "" {
		fl, err := xmodem.NewFileLogger(*logFile)
		if err != nil {
			return err
		}
		defer fl.Close()
		logger = fl
	}

	sp, err := serial.OpenPort(&serial.Config{Name: *portName, Baud: *baud})
	if err != nil {
		return err
	}
	defer sp.Close()

	rx := uart.NewChannel(uart.DefaultCapacity)
	go uart.Pump(ctx, sp, rx)
	port := uart.NewPort(rx, sp)

	size := int64(len(data))
	if err := command(port, fmt.Sprintf("{u%d %d", size, *offset)); err != nil {
		return err
	}

	config := xmodem.DefaultConfig()
	config.Use1K = *use1K

	callbacks := &xmodem.Callbacks{}
	if !*quiet {
		bar := progressbar.DefaultBytes(size, "uploading")
		callbacks.OnProgress = func(transferred, total int64, rate float64) {
			bar.Set64(transferred)
		}
		callbacks.OnComplete = func(int64, time.Duration) {
			bar.Finish()
		}
	}

	snd := xmodem.NewSender(port,
		xmodem.WithConfig(config),
		xmodem.WithCallbacks(callbacks),
		xmodem.WithLogger(logger),
	)
	sent, sendErr := snd.Send(ctx, bytes.NewReader(data), size)
	fmt.Fprintln(os.Stderr)
	glog.Infof("sent %d of %d bytes", sent, size)

	// The target reports the outcome and the digest it computed.
	status, err := readUntil(port, "sha256:")
	if err != nil {
		if sendErr != nil {
			return sendErr
		}
		return err
	}
	fmt.Println(status)
	if sendErr != nil {
		return sendErr
	}

	local := sha256.Sum256(data)
	if want := fmt.Sprintf("sha256: %x", local); !strings.HasSuffix(status, want) {
		return fmt.Errorf("digest mismatch: target %q, local %x", status, local)
	}

	if *doHash {
		if err := command(port, fmt.Sprintf("{h%d %d", size, *offset)); err != nil {
			return err
		}
		line, err := readUntil(port, "sha256:")
		if err != nil {
			return err
		}
		fmt.Println(line)
	}

	if *signKey != "" {
		key, err := ota.LoadPrivateKey(*signKey)
		if err != nil {
			return err
		}
		sig, err := ota.SignDigest(key, local[:])
		if err != nil {
			return err
		}
		lines := ota.SignatureLines(sig, ota.DefaultConfig().SignLineWidth)
		if err := command(port, "{s"+strings.Join(lines, "\n")); err != nil {
			return err
		}
		line, err := readUntil(port, "Sign", "sign:", "Get key")
		if err != nil {
			return err
		}
		fmt.Println(line)
		if !strings.Contains(line, "success") {
			return fmt.Errorf("target rejected signature")
		}
	}
	return nil
}

// command writes one command line and swallows its echo.
func command(port *uart.Port, line string) error {
	glog.V(1).Infof("> %s", line)
	if _, err := io.WriteString(port, line+"\n"); err != nil {
		return err
	}
	if *noEcho {
		return nil
	}
	return swallowEcho(port, line+"\n")
}

// swallowEcho consumes the echo of sent. A byte that differs from the echo
// means the target is answering instead, so it is pushed back for the
// next reader.
func swallowEcho(port *uart.Port, sent string) error {
	for i := 0; i < len(sent); i++ {
		b, err := port.ReadByteTimeout(echoTimeout)
		if err != nil {
			return nil
		}
		if b != sent[i] {
			glog.V(1).Infof("echo ended early at %02x", b)
			port.Unread(b)
			return nil
		}
	}
	return nil
}

// readUntil returns the first reply line starting with one of prefixes.
func readUntil(port *uart.Port, prefixes ...string) (string, error) {
	r := bufio.NewReader(byteReader{port})
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		glog.V(1).Infof("< %s", line)
		if strings.HasPrefix(line, "upload") {
			fmt.Println(line)
		}
		for _, p := range prefixes {
			if strings.HasPrefix(line, p) {
				return line, nil
			}
		}
	}
}

// byteReader adapts the channel to io.Reader one byte at a time so
// nothing past the awaited line is consumed.
type byteReader struct{ port *uart.Port }

func (br byteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := br.port.ReadByteTimeout(replyTimeout)
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
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
	fmt.Fprintf(os.Stderr, `%s - upload a firmware image over a serial line

Usage: %s -port DEV [options] IMAGE

Options:
  -port DEV      serial device connected to the target
  -baud N        baud rate (default: 115200)
  -offset N      image offset to write at (default: 0)
  -1k            use 1024 byte blocks (default: true)
  -hash          ask the target for the sha256 of the written range
  -sign FILE     sign the image digest with this RSA key and send it
  -log FILE      protocol log file
  -q             no progress bar
  -no-echo       the target does not echo commands
  -h             show this help message
  --version      show version

`, versionString, os.Args[0])
	os.Exit(exitcode)
}
