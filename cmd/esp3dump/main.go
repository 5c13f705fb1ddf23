// esp3dump prints the ESP3 frames seen on an EnOcean gateway link or in a
// capture file.
//
// Usage:
//
//	esp3dump -c serial:///dev/ttyUSB0
//	esp3dump -c tcp://192.168.1.50:9999
//	esp3dump -f capture.bin
//	esp3dump -f capture.txt -hex
//	esp3dump -list
//
// Radio frames are printed in green (teach-in frames in yellow), responses
// in cyan and everything else uncoloured.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean"
	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

const readBufferSize = 512

// options holds the parsed command line.
type options struct {
	connection string
	file       string
	hexInput   bool
	baudRate   int
	list       bool
	noColor    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("esp3dump", flag.ContinueOnError)
	fs.StringVar(&opts.connection, "c", "", "gateway URL (serial:///dev/ttyUSB0 or tcp://host:port)")
	fs.StringVar(&opts.file, "f", "", "capture file to read (- for stdin)")
	fs.BoolVar(&opts.hexInput, "hex", false, "input is hex text rather than raw bytes")
	fs.IntVar(&opts.baudRate, "baud", enocean.DefaultBaudRate, "serial baud rate")
	fs.BoolVar(&opts.list, "list", false, "list serial ports and exit")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if !opts.list && (opts.connection == "") == (opts.file == "") {
		return options{}, errors.New("exactly one of -c or -f is required")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.noColor {
		color.NoColor = true
	}

	if opts.list {
		return listPorts(out)
	}

	src, err := openSource(ctx, opts)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck // read-only source

	// Unblock a pending Read on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			src.Close() //nolint:errcheck // read-only source
		case <-stop:
		}
	}()

	var r io.Reader = src
	if opts.hexInput {
		r = newHexReader(src)
	}

	d := newDumper(out)
	err = d.copy(r)
	if ctx.Err() != nil {
		err = nil
	}
	fmt.Fprintf(out, "%d frames\n", d.frames)
	return err
}

func listPorts(out io.Writer) error {
	ports, err := enocean.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(out, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(out, p)
	}
	return nil
}

func openSource(ctx context.Context, opts options) (io.ReadCloser, error) {
	if opts.connection != "" {
		return enocean.OpenStream(ctx, enocean.GatewayConfig{
			Connection: opts.connection,
			BaudRate:   opts.baudRate,
		})
	}
	if opts.file == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(opts.file)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}
	return f, nil
}

// dumper feeds a byte stream through an esp3.Channel and prints every
// completed frame.
type dumper struct {
	out    io.Writer
	ch     *esp3.Channel
	frames int

	radio    *color.Color
	teachIn  *color.Color
	response *color.Color
}

func newDumper(out io.Writer) *dumper {
	d := &dumper{
		out:      out,
		ch:       esp3.NewChannel(nil),
		radio:    color.New(color.FgGreen),
		teachIn:  color.New(color.FgYellow, color.Bold),
		response: color.New(color.FgCyan),
	}
	d.ch.SetConsumer(esp3.FrameConsumerFunc(func(_ *esp3.Channel, f *esp3.Frame, _ error) {
		if f.HasTeachInfo(0, false) {
			d.print(d.teachIn, f)
			return
		}
		d.print(d.radio, f)
	}))
	d.ch.SetPassThrough(func(f *esp3.Frame) {
		if f.Type() == esp3.FrameTypeResponse {
			d.print(d.response, f)
			return
		}
		d.print(nil, f)
	})
	return d
}

func (d *dumper) print(c *color.Color, f *esp3.Frame) {
	d.frames++
	text := f.Describe()
	if c == nil {
		fmt.Fprint(d.out, text)
		return
	}
	c.Fprint(d.out, text) //nolint:errcheck // terminal output
}

// copy reads r to EOF. Zero-length reads (serial read timeouts) are skipped.
func (d *dumper) copy(r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.ch.AcceptBytes(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// hexReader decodes hex text such as "55 00 07 07 01 7A" into bytes.
// Anything that is not a hex digit separates bytes, a "0x" prefix is
// dropped and text after '#' is a comment.
type hexReader struct {
	lines   *bufio.Scanner
	pending []byte
}

func newHexReader(r io.Reader) *hexReader {
	return &hexReader{lines: bufio.NewScanner(r)}
}

func (h *hexReader) Read(p []byte) (int, error) {
	for len(h.pending) == 0 {
		if !h.lines.Scan() {
			if err := h.lines.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		decoded, err := decodeHexLine(h.lines.Text())
		if err != nil {
			return 0, err
		}
		h.pending = decoded
	}
	n := copy(p, h.pending)
	h.pending = h.pending[n:]
	return n, nil
}

func decodeHexLine(line string) ([]byte, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.NewReplacer("0x", " ", "0X", " ").Replace(line)
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	})

	var out []byte
	for _, field := range fields {
		if len(field)%2 != 0 {
			field = "0" + field
		}
		b, err := hex.DecodeString(field)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", field, err)
		}
		out = append(out, b...)
	}
	return out, nil
}
