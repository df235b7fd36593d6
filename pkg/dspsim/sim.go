// Package dspsim is an in-process SymNet device simulator. It implements
// the line protocol over TCP and UDP against an in-memory parameter store
// and pushes "#rcn=val" updates to every connected client on writes, which
// is enough to exercise the full client stack without hardware.
package dspsim

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Options configures a Simulator.
type Options struct {
	// Version is the banner reported for $V V. Defaults to ["Dummy DSP"].
	Version []string

	// OnCommand, when set, is consulted first for every received line.
	// Returning handled=true consumes the line; an empty reply then
	// swallows the command without responding, which is how tests
	// provoke timeouts.
	OnCommand func(line string) (reply string, handled bool)

	Logger *zap.Logger
}

// Simulator is a fake DSP accepting any number of concurrent clients.
type Simulator struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	params   map[int]int
	sysStr   map[string]string
	preset   int
	clients  map[*client]struct{}
	commands []string

	lis net.Listener
	udp *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type client struct {
	send  func([]byte) error
	close func()
}

// New creates a simulator. Call ListenTCP or ListenUDP before use.
func New(opts Options) *Simulator {
	if len(opts.Version) == 0 {
		opts.Version = []string{"Dummy DSP"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Simulator{
		opts:    opts,
		log:     opts.Logger,
		params:  make(map[int]int),
		sysStr:  make(map[string]string),
		clients: make(map[*client]struct{}),
		closed:  make(chan struct{}),
	}
}

// ListenTCP starts accepting stream clients on addr (e.g. "127.0.0.1:0").
func (s *Simulator) ListenTCP(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.lis = lis
	s.wg.Add(1)
	go s.acceptLoop()
	return lis.Addr(), nil
}

// ListenUDP starts serving datagram clients on addr.
func (s *Simulator) ListenUDP(addr string) (net.Addr, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	s.udp = conn
	s.wg.Add(1)
	go s.udpLoop()
	return conn.LocalAddr(), nil
}

// Close stops listeners and severs every client.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.lis != nil {
			_ = s.lis.Close()
		}
		if s.udp != nil {
			_ = s.udp.Close()
		}
		s.DropClients()
	})
	s.wg.Wait()
}

// DropClients severs every connected stream client, simulating connection
// loss.
func (s *Simulator) DropClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// SetParam stores a value and pushes the update to every client.
func (s *Simulator) SetParam(rcn, val int) {
	s.mu.Lock()
	s.params[rcn] = val
	s.mu.Unlock()
	s.push(rcn, val)
}

// Param reads a stored value.
func (s *Simulator) Param(rcn int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[rcn]
	return v, ok
}

// Commands returns every command line received so far, in arrival order.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// CommandsMatching returns received commands starting with prefix.
func (s *Simulator) CommandsMatching(prefix string) []string {
	var out []string
	for _, cmd := range s.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Simulator) serveConn(conn net.Conn) {
	defer s.wg.Done()

	c := &client{
		send:  func(b []byte) error { _, err := conn.Write(b); return err },
		close: func() { _ = conn.Close() },
	}
	s.addClient(c)
	defer s.removeClient(c)

	s.log.Debug("client connected", zap.Stringer("addr", conn.RemoteAddr()))

	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\r')
		if err != nil {
			return
		}
		s.handleLine(c, strings.TrimSuffix(line, "\r"))
	}
}

func (s *Simulator) udpLoop() {
	defer s.wg.Done()

	peers := make(map[string]*client)
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		key := raddr.String()
		c, ok := peers[key]
		if !ok {
			addr := raddr
			c = &client{
				send:  func(b []byte) error { _, err := s.udp.WriteToUDP(b, addr); return err },
				close: func() {},
			}
			peers[key] = c
			s.addClient(c)
		}
		for _, line := range strings.Split(string(buf[:n]), "\r") {
			if line != "" {
				s.handleLine(c, line)
			}
		}
	}
}

func (s *Simulator) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Simulator) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// push sends an unsolicited update to every client, like the device does
// after a parameter write.
func (s *Simulator) push(rcn, val int) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	line := []byte(fmt.Sprintf("#%d=%d\r", rcn, val))
	for _, c := range clients {
		_ = c.send(line)
	}
}

func (s *Simulator) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Simulator) handleLine(c *client, line string) {
	s.record(line)
	s.log.Debug("received", zap.String("line", line))

	if s.opts.OnCommand != nil {
		if reply, handled := s.opts.OnCommand(line); handled {
			if reply != "" {
				_ = c.send([]byte(reply))
			}
			return
		}
	}

	if strings.EqualFold(line, "$V V") {
		var b strings.Builder
		for _, l := range s.opts.Version {
			b.WriteString(l)
			b.WriteString("\r")
		}
		b.WriteString(">\r")
		_ = c.send([]byte(b.String()))
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	verb := strings.ToUpper(fields[0])

	reply := s.execute(verb, fields[1:])
	if reply != "" {
		_ = c.send([]byte(reply))
	}
}

func (s *Simulator) execute(verb string, args []string) string {
	switch verb {
	case "GS":
		rcn, ok := atoiArg(args, 0)
		if !ok {
			return "NAK\r"
		}
		s.mu.Lock()
		val, present := s.params[rcn]
		s.mu.Unlock()
		if !present {
			val = -1
		}
		return fmt.Sprintf("%d\r", val)

	case "CS", "CSQ":
		rcn, ok1 := atoiArg(args, 0)
		val, ok2 := atoiArg(args, 1)
		if !ok1 || !ok2 {
			return "NAK\r"
		}
		s.SetParam(rcn, val)
		return "ACK\r"

	case "CC":
		rcn, ok1 := atoiArg(args, 0)
		dir, ok2 := atoiArg(args, 1)
		amount, ok3 := atoiArg(args, 2)
		if !ok1 || !ok2 || !ok3 {
			return "NAK\r"
		}
		if dir == 0 {
			amount = -amount
		}
		s.mu.Lock()
		val := s.params[rcn] + amount
		s.params[rcn] = val
		s.mu.Unlock()
		s.push(rcn, val)
		return "ACK\r"

	case "GDB":
		start, ok1 := atoiArg(args, 0)
		count, ok2 := atoiArg(args, 1)
		if !ok1 || !ok2 || count < 1 {
			return "NAK\r"
		}
		var b strings.Builder
		s.mu.Lock()
		for i := 0; i < count; i++ {
			val, present := s.params[start+i]
			if !present {
				val = -1
			}
			fmt.Fprintf(&b, "%d\r", val)
		}
		s.mu.Unlock()
		return b.String()

	case "GPR":
		s.mu.Lock()
		preset := s.preset
		s.mu.Unlock()
		return fmt.Sprintf("%d\r", preset)

	case "LP":
		preset, ok := atoiArg(args, 0)
		if !ok {
			return "NAK\r"
		}
		s.mu.Lock()
		s.preset = preset
		s.mu.Unlock()
		return "ACK\r"

	case "SSYSS":
		if len(args) == 0 {
			return "NAK\r"
		}
		addr, value, found := strings.Cut(strings.Join(args, " "), "=")
		if !found {
			return "NAK\r"
		}
		s.mu.Lock()
		s.sysStr[addr] = value
		s.mu.Unlock()
		return "ACK\r"

	case "GSYSS":
		if len(args) == 0 {
			return "NAK\r"
		}
		s.mu.Lock()
		value, present := s.sysStr[args[0]]
		s.mu.Unlock()
		if !present {
			return "NAK\r"
		}
		return value + "\r"

	case "RI":
		host, _, err := net.SplitHostPort(s.localAddr())
		if err != nil {
			host = "0.0.0.0"
		}
		return host + "\r"

	case "FU", "NOP", "PUE", "PUD", "R!":
		return "ACK\r"

	default:
		// The device ACKs anything it does not understand.
		return "ACK\r"
	}
}

func (s *Simulator) localAddr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	if s.udp != nil {
		return s.udp.LocalAddr().String()
	}
	return ""
}

func atoiArg(args []string, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, false
	}
	return v, true
}
