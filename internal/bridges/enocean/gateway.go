package enocean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// stopSignal is a channel that may be closed from several places.
type stopSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

func (s *stopSignal) Close() { s.once.Do(func() { close(s.ch) }) }

func (s *stopSignal) Done() <-chan struct{} { return s.ch }

// DefaultBaudRate is the ESP3 line rate of USB300 and TCM310 modules.
const DefaultBaudRate = 57600

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = time.Second // short so Close is noticed
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	readBufferSize = 512

	// Received telegrams queue here for the handler workers; when full,
	// new telegrams are dropped and counted.
	callbackQueueSize   = 100
	callbackWorkerCount = 4
)

// GatewayConfig describes the link to the gateway. Zero durations and
// baud rate take the package defaults.
type GatewayConfig struct {
	// Connection is serial:///dev/ttyUSB0 for a local module or
	// tcp://host:port for one behind ser2net.
	Connection string

	BaudRate          int // serial only
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration // first backoff step; grows 1.5x up to 2m
}

// GatewayStats is a snapshot of the link counters.
type GatewayStats struct {
	FramesTx         uint64
	TelegramsRx      uint64
	TelegramsDropped uint64 // Dropped due to full callback queue
	ResponsesRx      uint64
	ResponseErrors   uint64 // Responses with a non-OK return code
	BytesRx          uint64
	ErrorsTotal      uint64
	ReconnectsTotal  uint64
	LastActivity     time.Time
	Connected        bool
	Reconnecting     bool
}

// Logger is the structured logger used across the package.
// *slog.Logger and *logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is what the bridge needs from a gateway. GatewayClient is the
// real one; tests substitute a mock.
type Connector interface {
	Send(ctx context.Context, f *esp3.Frame) error
	SetOnTelegram(callback func(*esp3.Frame))
	IsConnected() bool
	Stats() GatewayStats
	Close() error
}

var _ Connector = (*GatewayClient)(nil)

// link is the byte stream to the gateway: a serial port or a TCP socket.
type link interface {
	io.ReadWriteCloser

	// armRead prepares the next Read to give up after d.
	armRead(d time.Duration) error

	// armWrite bounds the next Write by deadline.
	armWrite(deadline time.Time) error
}

// netLink carries ESP3 over TCP (ser2net, ESP3 gateways with Ethernet).
type netLink struct {
	net.Conn
}

func (l netLink) armRead(d time.Duration) error {
	return l.SetReadDeadline(time.Now().Add(d))
}

func (l netLink) armWrite(deadline time.Time) error {
	return l.SetWriteDeadline(deadline)
}

// serialLink carries ESP3 over a local UART. The read timeout is fixed
// when the port is opened; a timed out Read returns (0, nil).
type serialLink struct {
	serial.Port
}

func (serialLink) armRead(time.Duration) error { return nil }

func (serialLink) armWrite(time.Time) error { return nil }

// GatewayClient keeps the link to an EnOcean gateway open and runs an
// ESP3 frame channel over it. Radio telegrams are handed to the
// SetOnTelegram callback by a small worker pool.
//
// A lost link is reopened with exponential backoff from ReconnectInterval
// up to two minutes, until Close. Bytes of a frame cut off by the drop are
// discarded. All methods are safe for concurrent use.
type GatewayClient struct {
	cfg GatewayConfig

	connMu    sync.RWMutex
	link      link
	connected bool

	// Frame channel. chMu guards the parse state, txMu the sink and
	// outbound writes, so a stalled write never holds up reception.
	chMu sync.Mutex
	txMu sync.Mutex
	ch   *esp3.Channel

	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	callbackMu    sync.RWMutex
	onTelegram    func(*esp3.Frame)
	callbackQueue chan *esp3.Frame

	done *stopSignal
	wg   sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger

	framesTx         atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	responsesRx      atomic.Uint64
	responseErrors   atomic.Uint64
	bytesRx          atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// Connect opens the link named by cfg.Connection, serial:// or tcp://,
// and starts receiving. ctx bounds only the initial open; after that the
// client reconnects on its own until Close.
//
// Returns:
//   - *GatewayClient: Running client
//   - error: ErrConnectionFailed wrapping the open failure
func Connect(ctx context.Context, cfg GatewayConfig) (*GatewayClient, error) {
	cfg = cfg.withDefaults()

	l, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := newGatewayClient(cfg)
	client.attach(l)
	client.start()
	return client, nil
}

// OpenStream opens the raw byte stream named by cfg.Connection without
// starting a client, for diagnostics that run their own esp3.Channel. A
// serial stream returns (0, nil) from Read when the read timeout elapses.
func OpenStream(ctx context.Context, cfg GatewayConfig) (io.ReadWriteCloser, error) {
	return dial(ctx, cfg.withDefaults())
}

func dial(ctx context.Context, cfg GatewayConfig) (link, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	l, err := openLink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return l, nil
}

// newGatewayClient builds an unconnected client.
func newGatewayClient(cfg GatewayConfig) *GatewayClient {
	c := &GatewayClient{
		cfg:           cfg,
		ch:            esp3.NewChannel(nil),
		done:          newStopSignal(),
		callbackQueue: make(chan *esp3.Frame, callbackQueueSize),
	}
	c.ch.SetConsumer(c)
	c.ch.SetPassThrough(c.handleNonRadio)
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// start launches the callback workers and the receive loop.
func (c *GatewayClient) start() {
	for range callbackWorkerCount {
		c.wg.Add(1)
		go c.callbackWorker()
	}

	c.wg.Add(1)
	go c.receiveLoop()
}

func (cfg GatewayConfig) withDefaults() GatewayConfig {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return cfg
}

// parseConnectionURL parses a gateway URL into a scheme and address.
func parseConnectionURL(connURL string) (scheme, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "serial":
		// serial:///dev/ttyUSB0 keeps the device in Path; serial://COM3 in Host.
		address = u.Path
		if address == "" {
			address = u.Host
		}
		if address == "" {
			return "", "", errors.New("serial URL has no device")
		}
		return "serial", address, nil
	case "tcp":
		if u.Host == "" {
			return "", "", errors.New("tcp URL has no host")
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use serial or tcp)", u.Scheme)
	}
}

// openLink opens the transport named by cfg.Connection.
func openLink(ctx context.Context, cfg GatewayConfig) (link, error) {
	scheme, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, err
	}

	if scheme == "tcp" {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", address, err)
		}
		return netLink{Conn: conn}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := serial.Open(address, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8, //nolint:mnd // ESP3 is 8N1
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", address, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return serialLink{Port: port}, nil
}

// attach installs a freshly opened link and points the channel at it.
func (c *GatewayClient) attach(l link) {
	c.chMu.Lock()
	c.ch.Reset()
	c.chMu.Unlock()

	c.txMu.Lock()
	c.ch.SetSink(l)
	c.txMu.Unlock()

	c.connMu.Lock()
	c.link = l
	c.connected = true
	c.connMu.Unlock()
}

// currentLink returns the active link, or nil.
func (c *GatewayClient) currentLink() link {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.link
}

// receiveLoop reads gateway bytes and feeds them to the frame channel.
// On link loss, it reconnects with exponential backoff.
func (c *GatewayClient) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		if c.isClosed() {
			return
		}

		n, err := c.readChunk(buf)
		if n > 0 {
			c.bytesRx.Add(uint64(n)) //nolint:gosec // n is bounded by buffer size
			c.lastActivity.Store(time.Now().Unix())

			c.chMu.Lock()
			c.ch.AcceptBytes(buf[:n])
			c.chMu.Unlock()
		}

		if err != nil && c.handleReadError(err) {
			if c.isClosed() {
				return
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

// readChunk performs one bounded read from the current link.
func (c *GatewayClient) readChunk(buf []byte) (int, error) {
	l := c.currentLink()
	if l == nil {
		return 0, ErrNotConnected
	}
	if err := l.armRead(c.cfg.ReadTimeout); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	return l.Read(buf)
}

// handleReadError processes a read error and returns true if the link
// must be reopened.
func (c *GatewayClient) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Idle line, keep reading
	}

	if !errors.Is(err, io.EOF) {
		c.logError("read failed", err)
	}
	c.errorsTotal.Add(1)
	c.handleDisconnect()
	return true
}

// OnFrame receives radio telegrams from the frame channel. It runs on the
// receive goroutine with chMu held, so it only queues.
func (c *GatewayClient) OnFrame(_ *esp3.Channel, f *esp3.Frame, err error) {
	if err != nil {
		c.logError("frame channel error", err)
		c.errorsTotal.Add(1)
		return
	}

	c.telegramsRx.Add(1)

	c.callbackMu.RLock()
	hasCallback := c.onTelegram != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.callbackQueue <- f:
	default:
		c.logError("callback queue full, dropping telegram", nil)
		c.telegramsDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// handleNonRadio accounts for response and event frames.
func (c *GatewayClient) handleNonRadio(f *esp3.Frame) {
	if f.Type() != esp3.FrameTypeResponse {
		c.logDebug("ignoring frame", "type", f.Type().String())
		return
	}

	c.responsesRx.Add(1)
	code := f.ReturnCode()
	if code != int(esp3.ReturnOK) {
		c.responseErrors.Add(1)
		c.logWarn("gateway rejected frame", "return_code", esp3.ReturnCodeName(code))
		return
	}
	c.logDebug("gateway response", "return_code", esp3.ReturnCodeName(code))
}

// callbackWorker processes telegrams from the callback queue.
func (c *GatewayClient) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainCallbackQueue()
			return
		case f := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onTelegram
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("telegram callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(f)
				}()
			}
		}
	}
}

// handleDisconnect marks the link as lost.
func (c *GatewayClient) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("gateway link lost, will attempt reconnection")
	}
}

// reconnect reopens the link with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *GatewayClient) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	if backoff == 0 {
		backoff = defaultReconnectInterval
	}

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldLink()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		l, err := openLink(ctx, c.cfg)
		cancel()
		if err != nil {
			backoff = c.handleReconnectFailure("open failed", err, backoff)
			if backoff == 0 {
				return false
			}
			continue
		}

		c.attach(l)
		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *GatewayClient) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldLink closes the existing link if any.
func (c *GatewayClient) closeOldLink() {
	c.connMu.Lock()
	if c.link != nil {
		c.link.Close()
		c.link = nil
	}
	c.connMu.Unlock()
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *GatewayClient) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0
	case <-time.After(backoff):
	}

	newBackoff := time.Duration(float64(backoff) * 1.5) //nolint:mnd // backoff factor
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection updates stats after the link is back.
func (c *GatewayClient) finalizeReconnection() {
	c.reconnectCount.Store(0)
	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
}

// drainCallbackQueue discards queued telegrams during shutdown.
func (c *GatewayClient) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
		default:
			return
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *GatewayClient) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive loop and closes the link.
// Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *GatewayClient) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.link != nil {
		c.link.Close() // unblocks a pending read
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.logInfo("gateway link closed")
	return nil
}

// Send finalizes f and transmits it to the gateway. Sends are serialised.
// Serial ports take no write deadline, so a stalled port holds up further
// sends but not reception.
//
// Parameters:
//   - ctx: Context for cancellation; its deadline bounds the write
//   - f: Outbound frame, typically built with InitForKind
//
// Returns:
//   - error: ErrNotConnected, or ErrSendFailed wrapping the cause
func (c *GatewayClient) Send(ctx context.Context, f *esp3.Frame) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	l := c.currentLink()
	if l == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	if err := l.armWrite(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if err := c.ch.Send(f); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logDebug("frame sent", "frame", f.String())
	return nil
}

// SetOnTelegram sets the callback for received radio telegrams.
//
// The callback runs on one of the pool workers. Panics in the callback are
// recovered and logged.
func (c *GatewayClient) SetOnTelegram(callback func(*esp3.Frame)) {
	c.callbackMu.Lock()
	c.onTelegram = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *GatewayClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the gateway link is up.
func (c *GatewayClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Address returns the configured connection URL.
func (c *GatewayClient) Address() string {
	return c.cfg.Connection
}

// Stats returns current operational statistics.
func (c *GatewayClient) Stats() GatewayStats {
	return GatewayStats{
		FramesTx:         c.framesTx.Load(),
		TelegramsRx:      c.telegramsRx.Load(),
		TelegramsDropped: c.telegramsDropped.Load(),
		ResponsesRx:      c.responsesRx.Load(),
		ResponseErrors:   c.responseErrors.Load(),
		BytesRx:          c.bytesRx.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnectsTotal.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
		Reconnecting:     c.reconnecting.Load(),
	}
}

// HealthCheck verifies the link is up.
func (c *GatewayClient) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// ListSerialPorts returns the serial devices present on this host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// IsSerialConnection reports whether a connection URL names a serial port.
func IsSerialConnection(connURL string) bool {
	return strings.HasPrefix(connURL, "serial:")
}

func (c *GatewayClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *GatewayClient) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *GatewayClient) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *GatewayClient) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
