// This file and its companion gdbserver_conn implement a proc.Tracer
// backed by a connection to a debugger speaking the "Gdb Remote Serial
// Protocol".
//
// The protocol is specified at:
//   https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
// with additional documentation for lldb specific extensions described at:
//   https://github.com/llvm-mirror/lldb/blob/master/docs/lldb-gdb-remote.txt
//
// Terminology:
//  * inferior: the program we are trying to debug
//  * stub: the debugger on the other side of the protocol's connection (for
//    example lldb-server)
//  * gdbserver: stub version of gdb
//  * lldb-server: stub version of lldb
//  * debugserver: a different stub version of lldb, installed with lldb on
//    macOS.
//
// The stub is always used in all-stop mode: a 'c' packet resumes every
// thread of the inferior and the next stop reply reports the first thread
// that stopped.

package gdbserial

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const (
	// DefaultPacketTimeout is the deadline of one request/response exchange.
	DefaultPacketTimeout = 5 * time.Second

	connectTimeout = 10 * time.Second
	pollSlice      = 100 * time.Millisecond
)

// Signal numbers as encoded by stop replies.
const (
	sigint       = 0x02
	sigtrap      = 0x05
	sigstop      = 0x11 // gdb's own numbering
	sigstopLinux = 0x13
)

// ErrBackendUnavailable is returned when the stub executable is not installed.
type ErrBackendUnavailable struct{}

func (err *ErrBackendUnavailable) Error() string {
	return "backend unavailable"
}

// Backend attaches to processes through a gdb remote stub.
type Backend struct {
	// StubPath is the stub executable, if empty debugserver and
	// lldb-server are searched for.
	StubPath string
	// Address of an already running stub. When set no stub is spawned.
	Address string
	// PacketTimeout is the deadline of a single exchange with the stub, 0
	// selects DefaultPacketTimeout.
	PacketTimeout time.Duration
}

// New returns a Backend that spawns stubs found with
// GetDebugServerAbsolutePath or on PATH.
func New() *Backend {
	return &Backend{PacketTimeout: DefaultPacketTimeout}
}

func (b *Backend) Name() string { return "gdbremote" }

// Process is the connection to a stub attached to one target.
type Process struct {
	conn *gdbConn
	pid  int

	process  *exec.Cmd
	waitChan chan *os.ProcessState

	layout *regs.Layout
	log    logflags.Logger

	closing int32 // set atomically by Detach

	// The following fields are protected by conn.mu.
	running       bool
	exited        bool
	pendingStop   *stopPacket
	currentThread string
}

var (
	_ proc.Tracer        = (*Process)(nil)
	_ proc.PollingWaiter = (*Process)(nil)
)

// GetDebugServerAbsolutePath returns the path of the debugserver binary,
// searching PATH first and then the Xcode and command line tools bundles.
// It returns an empty string if debugserver can not be found.
func GetDebugServerAbsolutePath() string {
	if path, err := exec.LookPath("debugserver"); err == nil {
		return path
	}
	for _, dir := range []string{
		"/Applications/Xcode.app/Contents/SharedFrameworks/LLDB.framework/Versions/A/Resources/",
		"/Library/Developer/CommandLineTools/Library/PrivateFrameworks/LLDB.framework/Versions/A/Resources/",
	} {
		path := filepath.Join(dir, "debugserver")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Attach connects to a stub controlling pid. If b.Address is set the stub
// is asked to attach with vAttach, otherwise a new stub is started with
// pid on its command line.
func (b *Backend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	log := env.Log
	if log == nil {
		log = logflags.GdbWireLogger().WithField("pid", pid)
	}
	p := &Process{pid: pid, log: log}

	var err error
	if b.Address != "" {
		err = p.dial(b, b.Address)
	} else {
		err = p.spawn(b, pid)
	}
	if err != nil {
		p.killStub()
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: err}
	}
	return p, nil
}

func (b *Backend) packetTimeout() time.Duration {
	if b.PacketTimeout > 0 {
		return b.PacketTimeout
	}
	return DefaultPacketTimeout
}

func (p *Process) dial(b *Backend, addr string) error {
	c, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return err
	}
	if err := p.connect(c, b.packetTimeout()); err != nil {
		return err
	}
	sp, err := p.conn.attach(p.pid)
	if isProtocolErrorUnsupported(err) {
		// Stubs started with --attach reject a second attach.
		sp, err = p.conn.haltReason()
	}
	if err != nil {
		p.conn.conn.Close()
		return err
	}
	p.pendingStop = &sp
	return nil
}

func (p *Process) spawn(b *Backend, pid int) error {
	if runtime.GOOS == "windows" {
		return proc.ErrUnsupportedOS
	}

	path := b.StubPath
	if path == "" {
		path = GetDebugServerAbsolutePath()
	}
	if path == "" {
		if _, err := exec.LookPath("lldb-server"); err != nil {
			return &ErrBackendUnavailable{}
		}
		path = "lldb-server"
	}

	var listener net.Listener
	var port string
	if strings.HasPrefix(filepath.Base(path), "debugserver") {
		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		p.process = exec.Command(path, "-R", fmt.Sprintf("127.0.0.1:%d", listener.Addr().(*net.TCPAddr).Port), "--attach="+strconv.Itoa(pid))
	} else {
		port = unusedPort()
		p.process = exec.Command(path, "gdbserver", "--attach", strconv.Itoa(pid), port)
	}

	if logflags.StubOutput() {
		p.process.Stdout = os.Stdout
		p.process.Stderr = os.Stderr
	}
	p.process.SysProcAttr = backgroundSysProcAttr()

	if err := p.process.Start(); err != nil {
		if listener != nil {
			listener.Close()
		}
		p.process = nil
		return err
	}
	p.waitChan = make(chan *os.ProcessState, 1)
	go func() {
		state, _ := p.process.Process.Wait()
		p.waitChan <- state
	}()

	var c net.Conn
	var err error
	if listener != nil {
		c, err = p.listen(listener)
	} else {
		c, err = p.dialStub("127.0.0.1" + port)
	}
	if err != nil {
		return err
	}
	if err := p.connect(c, b.packetTimeout()); err != nil {
		return err
	}
	sp, err := p.conn.haltReason()
	if err != nil {
		p.conn.conn.Close()
		return err
	}
	p.pendingStop = &sp
	return nil
}

// listen waits for a connection from the stub.
func (p *Process) listen(listener net.Listener) (net.Conn, error) {
	acceptChan := make(chan net.Conn)

	go func() {
		conn, _ := listener.Accept()
		acceptChan <- conn
	}()

	select {
	case conn := <-acceptChan:
		listener.Close()
		if conn == nil {
			return nil, errors.New("could not connect")
		}
		return conn, nil
	case status := <-p.waitChan:
		listener.Close()
		<-acceptChan
		p.waitChan <- status
		return nil, fmt.Errorf("stub exited while waiting for connection: %v", status)
	case <-time.After(connectTimeout):
		listener.Close()
		<-acceptChan
		return nil, errors.New("timed out waiting for the stub to connect")
	}
}

// dialStub attempts to connect to the stub until it accepts or exits.
func (p *Process) dialStub(addr string) (net.Conn, error) {
	deadline := time.Now().Add(connectTimeout)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case status := <-p.waitChan:
			p.waitChan <- status
			return nil, fmt.Errorf("stub exited while attempting to connect: %v", status)
		default:
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// connect performs the handshake and derives the register layout.
func (p *Process) connect(c net.Conn, packetTimeout time.Duration) error {
	p.conn = newConn(c, packetTimeout)
	p.conn.log = p.log
	p.conn.pid = p.pid
	if err := p.conn.handshake(); err != nil {
		c.Close()
		return err
	}
	layout, err := layoutFromRegisters(p.conn.regsInfo)
	if err != nil {
		c.Close()
		return err
	}
	p.layout = layout
	p.log.Debugf("connected, %s, packet size %d", layout.Name, p.conn.packetSize)
	return nil
}

// unusedPort returns an unused tcp port
// This is a hack and subject to a race condition with other running
// programs, but most (all?) OS will cycle through all ephemeral ports
// before reassigning one port they just assigned, unless there's heavy
// churn in the ephemeral range this should work.
func unusedPort() string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return ":8081"
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return fmt.Sprintf(":%d", port)
}

var layoutNames = map[string]regs.RegisterID{
	"rsp": regs.SP, "esp": regs.SP, "sp": regs.SP,
	"rbp": regs.FP, "ebp": regs.FP, "fp": regs.FP,
	"rip": regs.IP, "eip": regs.IP, "pc": regs.IP,
	"rflags": regs.Flags, "eflags": regs.Flags,
	"dr0": regs.DR0, "dr1": regs.DR1, "dr2": regs.DR2, "dr3": regs.DR3,
	"dr6": regs.DR6, "dr7": regs.DR7,
	"rax": regs.GPR, "eax": regs.GPR,
	"xmm0": regs.Vector,
}

// layoutFromRegisters maps the registers reported by the stub onto the
// abstract register set. Every register lives in the 'g' packet image.
func layoutFromRegisters(info []gdbRegisterInfo) (*regs.Layout, error) {
	l := &regs.Layout{Name: "gdbremote/386", PtrSize: 4}
	for _, reg := range info {
		id, ok := layoutNames[strings.ToLower(reg.Name)]
		if !ok {
			continue
		}
		if reg.Name == regnamePC {
			l.Name = "gdbremote/amd64"
			l.PtrSize = 8
		}
		size := reg.Bitsize / 8
		if size > 8 {
			size = 8
		}
		if size <= 0 {
			continue
		}
		l.Fields[id] = regs.Field{Area: regs.AreaGeneral, Offset: reg.Offset, Size: size}
	}
	if l.Fields[regs.IP].Size == 0 || l.Fields[regs.SP].Size == 0 {
		return nil, errors.New("stub did not report pc and sp")
	}
	return l, nil
}

// Pid returns the process id of the target.
func (p *Process) Pid() int { return p.pid }

// Native64 returns true if the stub reports 64 bit registers.
func (p *Process) Native64() bool { return p.layout.PtrSize == 8 }

// Layout returns the layout built from the stub's register description.
func (p *Process) Layout(is64 bool) (*regs.Layout, error) {
	if is64 != p.Native64() {
		return nil, fmt.Errorf("%w: stub reports %d bit registers", regs.ErrWidthMismatch, p.layout.PtrSize*8)
	}
	return p.layout, nil
}

func (p *Process) threadSelector(tid int) string {
	if tid > 0 {
		return strconv.FormatInt(int64(tid), 16)
	}
	if p.currentThread != "" {
		return p.currentThread
	}
	return "0"
}

// ReadContext reads the registers of tid with a 'g' packet.
func (p *Process) ReadContext(tid int, area regs.Area, is64 bool) ([]byte, error) {
	if _, err := p.Layout(is64); err != nil {
		return nil, err
	}
	if area != regs.AreaGeneral {
		return nil, fmt.Errorf("%w: %s area", regs.ErrUnsupportedRegister, area)
	}
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	if p.running {
		return nil, proc.ErrRunning
	}
	return p.conn.readRegisters(p.threadSelector(tid))
}

// WriteContext writes the registers of tid with a 'G' packet.
func (p *Process) WriteContext(tid int, area regs.Area, is64 bool, buf []byte) error {
	if _, err := p.Layout(is64); err != nil {
		return err
	}
	if area != regs.AreaGeneral {
		return fmt.Errorf("%w: %s area", regs.ErrUnsupportedRegister, area)
	}
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	if p.running {
		return proc.ErrRunning
	}
	return p.conn.writeRegisters(p.threadSelector(tid), buf)
}

// ReadMemory reads len(data) bytes at addr with 'm' packets.
func (p *Process) ReadMemory(addr uint64, data []byte) error {
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	if p.running {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: proc.ErrRunning}
	}
	if err := p.conn.readMemory(data, addr); err != nil {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

// WriteMemory writes data at addr with 'M' packets.
func (p *Process) WriteMemory(addr uint64, data []byte) error {
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	if p.running {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: proc.ErrRunning}
	}
	if err := p.conn.writeMemory(addr, data); err != nil {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

// FlushInstructionCache is a no-op, stubs keep the caches coherent.
func (p *Process) FlushInstructionCache(addr uint64, size int) error {
	return nil
}

// Interrupt sends ^C to the stub, the target stops with SIGINT.
func (p *Process) Interrupt() error {
	if atomic.LoadInt32(&p.closing) != 0 {
		return proc.ErrSessionClosed
	}
	return p.conn.sendCtrlC()
}

// Resume sends 'c'. The stub runs every thread, tid is ignored.
func (p *Process) Resume(tid int) error {
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	if p.exited {
		return proc.ErrProcessExited{Pid: p.pid}
	}
	if p.running {
		return proc.ErrRunning
	}
	p.pendingStop = nil
	if err := p.conn.resume(); err != nil {
		return err
	}
	p.running = true
	return nil
}

// Poll waits for the next stop reply. The connection is only locked for
// one pollSlice at a time. While the target runs the stub accepts no other
// packet, so memory and register access fail with proc.ErrRunning instead
// of waiting for the stop.
func (p *Process) Poll(timeout time.Duration) (proc.Event, bool, error) {
	var end time.Time
	if timeout > 0 {
		end = time.Now().Add(timeout)
	}
	for {
		ev, ok, done, err := p.waitSlice(end)
		if done {
			return ev, ok, err
		}
	}
}

// waitSlice waits for a stop reply until end or for one pollSlice,
// whichever comes first. done is false if Poll should keep waiting.
func (p *Process) waitSlice(end time.Time) (ev proc.Event, ok, done bool, err error) {
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()

	if sp := p.pendingStop; sp != nil {
		p.pendingStop = nil
		return p.handleStop(*sp), true, true, nil
	}
	if atomic.LoadInt32(&p.closing) != 0 {
		return proc.Event{Status: proc.StatusError}, false, true, proc.ErrSessionClosed
	}
	deadline := time.Now().Add(pollSlice)
	if !end.IsZero() && deadline.After(end) {
		deadline = end
	}
	sp, err := p.conn.waitStop(deadline)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			if !end.IsZero() && !time.Now().Before(end) {
				return proc.Event{Status: proc.StatusTimeout}, false, true, nil
			}
			return proc.Event{}, false, false, nil
		}
		return proc.Event{Status: proc.StatusError}, false, true, err
	}
	return p.handleStop(sp), true, true, nil
}

func (p *Process) handleStop(sp stopPacket) proc.Event {
	ev := proc.Event{Status: classifyStop(sp)}
	switch sp.kind {
	case 'O':
		p.log.Debugf("inferior output: %q", sp.output)
		return ev
	case 'W', 'X':
		p.exited = true
	}
	p.running = false
	if sp.threadID != "" {
		p.currentThread = sp.threadID
		if tid, err := strconv.ParseInt(sp.threadID, 16, 64); err == nil {
			ev.ThreadID = int(tid)
		}
	}
	p.log.Debugf("stop %c sig %#x thread %s reason %q: %s", sp.kind, sp.sig, sp.threadID, sp.reason, ev.Status)
	return ev
}

// classifyStop maps a stop reply to an event status.
func classifyStop(sp stopPacket) proc.EventStatus {
	switch sp.kind {
	case 'W', 'X':
		return proc.StatusExited
	case 'O', 'N':
		return proc.StatusHandled
	}
	if sp.reason == "trace" {
		return proc.StatusSingleStep
	}
	switch sp.sig {
	case sigtrap, sigstop, sigstopLinux, sigint:
		return proc.StatusBreakpoint
	case 0:
		return proc.StatusHandled
	}
	return proc.StatusError
}

// Detach interrupts the target if it is running, detaches from it and
// terminates the stub if it was started by Attach.
func (p *Process) Detach() error {
	atomic.StoreInt32(&p.closing, 1)
	p.conn.conn.SetReadDeadline(time.Now())

	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()

	var err error
	if p.running && !p.exited {
		if err = p.conn.sendCtrlC(); err == nil {
			err = p.drainStop()
		}
	}
	if !p.exited {
		if derr := p.conn.detach(); err == nil {
			err = derr
		}
	} else {
		p.conn.conn.Close()
		p.conn.conn = nil
	}
	p.killStub()
	p.log.Debugf("detached")
	return err
}

// drainStop reads replies until the stop caused by an interrupt arrives.
func (p *Process) drainStop() error {
	deadline := time.Now().Add(p.conn.packetTimeout)
	if p.conn.packetTimeout <= 0 {
		deadline = time.Now().Add(DefaultPacketTimeout)
	}
	for {
		sp, err := p.conn.waitStop(deadline)
		if err != nil {
			return err
		}
		switch sp.kind {
		case 'O':
			continue
		case 'W', 'X':
			p.exited = true
		}
		p.running = false
		return nil
	}
}

func (p *Process) killStub() {
	if p.process == nil {
		return
	}
	p.process.Process.Kill()
	<-p.waitChan
	p.process = nil
}
