package gdbserial

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hldbg/hldbg/pkg/logflags"
)

type gdbConn struct {
	conn net.Conn
	rdr  *bufio.Reader

	inbuf  []byte
	outbuf bytes.Buffer

	// mu serializes request/response exchanges. Interrupts are written
	// without holding it.
	mu sync.Mutex

	packetSize    int               // maximum packet size supported by stub
	packetTimeout time.Duration     // deadline of a single exchange, 0 for none
	regsInfo      []gdbRegisterInfo // list of registers

	pid int // cache process id

	ack                   bool // when ack is true acknowledgment packets are enabled
	maxTransmitAttempts   int  // maximum number of transmit or receive attempts when bad checksums are read
	threadSuffixSupported bool // thread suffix supported by stub

	log logflags.Logger
}

const (
	regnamePC = "rip"
	regnameSP = "rsp"

	regnamePC32 = "eip"
	regnameSP32 = "esp"
)

const (
	gdbWireMaxLen = 120

	defaultPacketSize          = 256
	defaultMaxTransmitAttempts = 3
)

var ErrTooManyAttempts = errors.New("too many transmit attempts")

// ProtocolError is an error response (Exx) of Gdb Remote Serial Protocol
// or an "unsupported command" response (empty packet).
type ProtocolError struct {
	context string
	cmd     string
	code    string
}

func (err *ProtocolError) Error() string {
	cmd := err.cmd
	if len(cmd) > 20 {
		cmd = cmd[:20] + "..."
	}
	if err.code == "" {
		return fmt.Sprintf("unsupported packet %s during %s", cmd, err.context)
	}
	return fmt.Sprintf("protocol error %s during %s for packet %s", err.code, err.context, cmd)
}

func isProtocolErrorUnsupported(err error) bool {
	var gdberr *ProtocolError
	if !errors.As(err, &gdberr) {
		return false
	}
	return gdberr.code == ""
}

func newConn(c net.Conn, packetTimeout time.Duration) *gdbConn {
	return &gdbConn{
		conn:                c,
		rdr:                 bufio.NewReader(c),
		inbuf:               make([]byte, 0, defaultPacketSize),
		packetSize:          defaultPacketSize,
		packetTimeout:       packetTimeout,
		maxTransmitAttempts: defaultMaxTransmitAttempts,
		log:                 logflags.GdbWireLogger(),
	}
}

const qSupported = "$qSupported:swbreak+;hwbreak+;no-resumed+;xmlRegisters=i386"

func (conn *gdbConn) handshake() error {
	conn.ack = true

	// This first ack packet is needed to start up the connection
	conn.sendack('+')

	if err := conn.disableAck(); err != nil && !isProtocolErrorUnsupported(err) {
		return err
	}

	// Try to enable thread suffixes for the command 'g'
	if _, err := conn.exec([]byte("$QThreadSuffixSupported"), "init"); err != nil {
		if !isProtocolErrorUnsupported(err) {
			return err
		}
		conn.threadSuffixSupported = false
	} else {
		conn.threadSuffixSupported = true
	}

	features, err := conn.qSupported()
	if err != nil {
		return err
	}

	// gdbserver and lldb-server on Linux support qXfer:features:read,
	// debugserver on macOS only supports qRegisterInfo.
	if features["qXfer:features:read"] {
		if !conn.threadSuffixSupported {
			// gdbserver won't let us read target.xml unless first we
			// select a thread.
			conn.exec([]byte("$Hgp0"), "init")
		}
		return conn.readTargetXml()
	}
	return conn.readRegisterInfo()
}

func (conn *gdbConn) qSupported() (features map[string]bool, err error) {
	respBuf, err := conn.exec([]byte(qSupported), "init/qSupported")
	if err != nil {
		return nil, err
	}
	resp := strings.Split(string(respBuf), ";")
	features = make(map[string]bool)
	for _, stubfeature := range resp {
		if len(stubfeature) <= 0 {
			continue
		} else if equal := strings.Index(stubfeature, "="); equal >= 0 {
			if stubfeature[:equal] == "PacketSize" {
				if n, err := strconv.ParseInt(stubfeature[equal+1:], 16, 64); err == nil {
					conn.packetSize = int(n)
				}
			}
		} else if stubfeature[len(stubfeature)-1] == '+' {
			features[stubfeature[:len(stubfeature)-1]] = true
		}
	}
	return features, nil
}

// disableAck disables protocol acks.
func (conn *gdbConn) disableAck() error {
	_, err := conn.exec([]byte("$QStartNoAckMode"), "init/disableAck")
	if err == nil {
		conn.ack = false
	}
	return err
}

// gdbTarget is a struct type used to parse target.xml
type gdbTarget struct {
	Includes  []gdbTargetInclude `xml:"xi include"`
	Registers []gdbRegisterInfo  `xml:"reg"`
}

type gdbTargetInclude struct {
	Href string `xml:"href,attr"`
}

type gdbRegisterInfo struct {
	Name    string `xml:"name,attr"`
	Bitsize int    `xml:"bitsize,attr"`
	Offset  int
	Regnum  int `xml:"regnum,attr"`
}

// readTargetXml reads target.xml file from stub using qXfer:features:read,
// then parses it requesting any additional files.
// The schema of target.xml is described by:
//
//	https://github.com/bminor/binutils-gdb/blob/61baf725eca99af2569262d10aca03dcde2698f6/gdb/features/gdb-target.dtd
func (conn *gdbConn) readTargetXml() (err error) {
	conn.regsInfo, err = conn.readAnnex("target.xml")
	if err != nil {
		return err
	}
	var offset int
	regnum := 0
	for i := range conn.regsInfo {
		if conn.regsInfo[i].Regnum == 0 {
			conn.regsInfo[i].Regnum = regnum
		} else {
			regnum = conn.regsInfo[i].Regnum
		}
		conn.regsInfo[i].Offset = offset
		offset += conn.regsInfo[i].Bitsize / 8
		regnum++
	}
	return conn.checkRegisters()
}

// readRegisterInfo uses qRegisterInfo to read register information (used
// when qXfer:feature:read is not supported).
func (conn *gdbConn) readRegisterInfo() (err error) {
	regnum := 0
	for {
		conn.outbuf.Reset()
		fmt.Fprintf(&conn.outbuf, "$qRegisterInfo%x", regnum)
		respbytes, err := conn.exec(conn.outbuf.Bytes(), "register info")
		if err != nil {
			if regnum == 0 {
				return err
			}
			break
		}

		var regname string
		var offset int
		var bitsize int
		var contained bool

		resp := string(respbytes)
		for {
			semicolon := strings.Index(resp, ";")
			keyval := resp
			if semicolon >= 0 {
				keyval = resp[:semicolon]
			}

			colon := strings.Index(keyval, ":")
			if colon >= 0 {
				name := keyval[:colon]
				value := keyval[colon+1:]

				switch name {
				case "name":
					regname = value
				case "offset":
					offset, _ = strconv.Atoi(value)
				case "bitsize":
					bitsize, _ = strconv.Atoi(value)
				case "container-regs":
					contained = true
				}
			}

			if semicolon < 0 {
				break
			}
			resp = resp[semicolon+1:]
		}

		if contained {
			regnum++
			continue
		}

		conn.regsInfo = append(conn.regsInfo, gdbRegisterInfo{Regnum: regnum, Name: regname, Bitsize: bitsize, Offset: offset})

		regnum++
	}

	return conn.checkRegisters()
}

func (conn *gdbConn) checkRegisters() error {
	var pcFound, spFound bool
	for _, reg := range conn.regsInfo {
		switch reg.Name {
		case regnamePC, regnamePC32:
			pcFound = true
		case regnameSP, regnameSP32:
			spFound = true
		}
	}
	if !pcFound {
		return errors.New("could not find instruction pointer register")
	}
	if !spFound {
		return errors.New("could not find stack pointer register")
	}
	return nil
}

func (conn *gdbConn) readAnnex(annex string) ([]gdbRegisterInfo, error) {
	tgtbuf, err := conn.qXfer("features", annex, false)
	if err != nil {
		return nil, err
	}
	var tgt gdbTarget
	if err := xml.Unmarshal(tgtbuf, &tgt); err != nil {
		return nil, err
	}

	for _, incl := range tgt.Includes {
		regs, err := conn.readAnnex(incl.Href)
		if err != nil {
			return nil, err
		}
		tgt.Registers = append(tgt.Registers, regs...)
	}
	return tgt.Registers, nil
}

// qXfer executes a 'qXfer' read with the specified kind (i.e. feature,
// exec-file, etc...) and annex.
func (conn *gdbConn) qXfer(kind, annex string, binary bool) ([]byte, error) {
	out := []byte{}
	for {
		cmd := []byte(fmt.Sprintf("$qXfer:%s:read:%s:%x,fff", kind, annex, len(out)))
		err := conn.send(cmd)
		if err != nil {
			return nil, err
		}
		buf, err := conn.recv(cmd, "target features transfer", binary)
		if err != nil {
			return nil, err
		}

		out = append(out, buf[1:]...)
		if buf[0] == 'l' {
			break
		}
	}
	return out, nil
}

// attach executes a 'vAttach' command, the reply is the first stop packet.
func (conn *gdbConn) attach(pid int) (stopPacket, error) {
	conn.outbuf.Reset()
	fmt.Fprintf(&conn.outbuf, "$vAttach;%x", pid)
	resp, err := conn.exec(conn.outbuf.Bytes(), "attach")
	if err != nil {
		return stopPacket{}, err
	}
	conn.pid = pid
	return conn.parseStopPacket(resp)
}

// haltReason executes a '?' command.
func (conn *gdbConn) haltReason() (stopPacket, error) {
	resp, err := conn.exec([]byte{'$', '?'}, "halt reason")
	if err != nil {
		return stopPacket{}, err
	}
	return conn.parseStopPacket(resp)
}

// detach executes a 'D' (detach) command.
func (conn *gdbConn) detach() error {
	if conn.conn == nil {
		// Already detached
		return nil
	}
	_, err := conn.exec([]byte{'$', 'D'}, "detach")
	conn.conn.Close()
	conn.conn = nil
	return err
}

// readRegisters executes a 'g' (read registers) command.
func (conn *gdbConn) readRegisters(threadID string) ([]byte, error) {
	if !conn.threadSuffixSupported {
		if err := conn.selectThread('g', threadID, "registers read"); err != nil {
			return nil, err
		}
	}
	conn.outbuf.Reset()
	conn.outbuf.WriteString("$g")
	conn.appendThreadSelector(threadID)
	resp, err := conn.exec(conn.outbuf.Bytes(), "registers read")
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(resp)/2)
	for i := 0; i+1 < len(resp); i += 2 {
		// unavailable registers are sent as 'xx'
		n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
		data[i/2] = uint8(n)
	}

	return data, nil
}

// writeRegisters executes a 'G' (write registers) command.
func (conn *gdbConn) writeRegisters(threadID string, data []byte) error {
	if !conn.threadSuffixSupported {
		if err := conn.selectThread('g', threadID, "registers write"); err != nil {
			return err
		}
	}
	conn.outbuf.Reset()
	conn.outbuf.WriteString("$G")
	writeAsciiBytes(&conn.outbuf, data)
	conn.appendThreadSelector(threadID)
	_, err := conn.exec(conn.outbuf.Bytes(), "registers write")
	return err
}

// resume sends a 'c' (continue) command. The reply is the next stop
// packet, which is read by waitStop.
func (conn *gdbConn) resume() error {
	return conn.send([]byte{'$', 'c'})
}

type stopPacket struct {
	kind       byte
	threadID   string
	sig        uint8
	reason     string
	exitStatus int
	output     []byte
}

func (conn *gdbConn) parseStopPacket(resp []byte) (sp stopPacket, err error) {
	sp.kind = resp[0]
	switch resp[0] {
	case 'T', 'S':
		if len(resp) < 3 {
			return stopPacket{}, fmt.Errorf("malformed stop packet %s", string(resp))
		}

		sig, err := strconv.ParseUint(string(resp[1:3]), 16, 8)
		if err != nil {
			return stopPacket{}, fmt.Errorf("malformed stop packet: %s", string(resp))
		}
		sp.sig = uint8(sig)

		buf := resp[3:]
		for buf != nil {
			colon := bytes.Index(buf, []byte{':'})
			if colon < 0 {
				break
			}
			key := buf[:colon]
			buf = buf[colon+1:]

			semicolon := bytes.Index(buf, []byte{';'})
			var value []byte
			if semicolon < 0 {
				value = buf
				buf = nil
			} else {
				value = buf[:semicolon]
				buf = buf[semicolon+1:]
			}

			switch string(key) {
			case "thread":
				sp.threadID = string(value)
			case "reason":
				sp.reason = string(value)
			}
		}

		return sp, nil

	case 'W', 'X':
		// process exited, next two character are exit code

		semicolon := bytes.Index(resp, []byte{';'})

		if semicolon < 0 {
			semicolon = len(resp)
		}
		status, _ := strconv.ParseUint(string(resp[1:semicolon]), 16, 8)
		sp.exitStatus = int(status)
		return sp, nil

	case 'N':
		// no resumed threads left
		return sp, nil

	case 'O':
		sp.output = make([]byte, 0, len(resp[1:])/2)
		for i := 1; i+1 < len(resp); i += 2 {
			n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
			sp.output = append(sp.output, uint8(n))
		}
		return sp, nil

	default:
		return sp, fmt.Errorf("unexpected stop packet %c", resp[0])
	}
}

// waitStop waits until the deadline for the start of a stop packet and
// reads it. It returns a net.Error with Timeout() == true if nothing
// arrived in time, no data is consumed in that case.
func (conn *gdbConn) waitStop(deadline time.Time) (stopPacket, error) {
	conn.conn.SetReadDeadline(deadline)
	if _, err := conn.rdr.Peek(1); err != nil {
		return stopPacket{}, err
	}
	conn.setDeadline()
	resp, err := conn.recv(nil, "stop reply", false)
	if err != nil {
		return stopPacket{}, err
	}
	return conn.parseStopPacket(resp)
}

const ctrlC = 0x03 // the ASCII character for ^C

// executes a ctrl-C on the line
func (conn *gdbConn) sendCtrlC() error {
	conn.log.Debug("<- interrupt")
	_, err := conn.conn.Write([]byte{ctrlC})
	return err
}

func (conn *gdbConn) selectThread(kind byte, threadID string, context string) error {
	if conn.threadSuffixSupported {
		panic("selectThread when thread suffix is supported")
	}
	conn.outbuf.Reset()
	fmt.Fprintf(&conn.outbuf, "$H%c%s", kind, threadID)
	_, err := conn.exec(conn.outbuf.Bytes(), context)
	return err
}

func (conn *gdbConn) appendThreadSelector(threadID string) {
	if !conn.threadSuffixSupported {
		return
	}
	fmt.Fprintf(&conn.outbuf, ";thread:%s;", threadID)
}

// executes 'm' (read memory) command
func (conn *gdbConn) readMemory(data []byte, addr uint64) error {
	size := len(data)
	data = data[:0]

	for size > 0 {
		conn.outbuf.Reset()

		// gdbserver will crash if we ask too many bytes... not return an error, actually crash
		sz := size
		if dataSize := (conn.packetSize - 4) / 2; sz > dataSize {
			sz = dataSize
		}
		size = size - sz

		fmt.Fprintf(&conn.outbuf, "$m%x,%x", addr+uint64(len(data)), sz)
		resp, err := conn.exec(conn.outbuf.Bytes(), "memory read")
		if err != nil {
			return err
		}
		if len(resp) < 2*sz {
			return fmt.Errorf("short memory read at %#x: %d bytes", addr+uint64(len(data)), len(resp)/2)
		}

		for i := 0; i < 2*sz; i += 2 {
			n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
			data = append(data, uint8(n))
		}
	}
	return nil
}

func writeAsciiBytes(w io.Writer, data []byte) {
	for _, b := range data {
		fmt.Fprintf(w, "%02x", b)
	}
}

// executes 'M' (write memory) command
func (conn *gdbConn) writeMemory(addr uint64, data []byte) error {
	// room for "$M<addr>,<len>:" and the checksum
	chunk := (conn.packetSize - 40) / 2
	if chunk <= 0 {
		chunk = 1
	}
	for len(data) > 0 {
		sz := len(data)
		if sz > chunk {
			sz = chunk
		}
		conn.outbuf.Reset()
		fmt.Fprintf(&conn.outbuf, "$M%x,%x:", addr, sz)
		writeAsciiBytes(&conn.outbuf, data[:sz])
		if _, err := conn.exec(conn.outbuf.Bytes(), "memory write"); err != nil {
			return err
		}
		addr += uint64(sz)
		data = data[sz:]
	}
	return nil
}

// setDeadline arms the deadline of a single exchange.
func (conn *gdbConn) setDeadline() {
	if conn.packetTimeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(conn.packetTimeout))
	} else {
		conn.conn.SetDeadline(time.Time{})
	}
}

func (conn *gdbConn) exec(cmd []byte, context string) ([]byte, error) {
	conn.setDeadline()
	if err := conn.send(cmd); err != nil {
		return nil, err
	}
	return conn.recv(cmd, context, false)
}

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

func (conn *gdbConn) send(cmd []byte) error {
	if len(cmd) == 0 || cmd[0] != '$' {
		panic("gdb protocol error: command doesn't start with '$'")
	}

	// append checksum to packet
	cmd = append(cmd, '#')
	sum := checksum(cmd)
	cmd = append(cmd, hexdigit[sum>>4], hexdigit[sum&0xf])

	attempt := 0
	for {
		if logflags.GdbWire() {
			if len(cmd) > gdbWireMaxLen {
				conn.log.Debugf("<- %s...", string(cmd[:gdbWireMaxLen]))
			} else {
				conn.log.Debugf("<- %s", string(cmd))
			}
		}
		_, err := conn.conn.Write(cmd)
		if err != nil {
			return err
		}

		if !conn.ack {
			break
		}

		if conn.readack() {
			break
		}
		if attempt > conn.maxTransmitAttempts {
			return ErrTooManyAttempts
		}
		attempt++
	}
	return nil
}

func (conn *gdbConn) recv(cmd []byte, context string, binary bool) (resp []byte, err error) {
	attempt := 0
	for {
		var err error
		resp, err = conn.rdr.ReadBytes('#')
		if err != nil {
			return nil, err
		}

		// read checksum
		var csum [2]byte
		if _, err = io.ReadFull(conn.rdr, csum[:]); err != nil {
			return nil, err
		}
		if logflags.GdbWire() {
			out := resp
			partial := false
			if idx := bytes.Index(out, []byte{'\n'}); idx >= 0 {
				out = resp[:idx]
				partial = true
			}
			if len(out) > gdbWireMaxLen {
				out = out[:gdbWireMaxLen]
				partial = true
			}
			if !partial {
				conn.log.Debugf("-> %s%s", string(resp), string(csum[:]))
			} else {
				conn.log.Debugf("-> %s...", string(out))
			}
		}

		// skip anything before the start of the packet, like stray acks
		if idx := bytes.IndexAny(resp, "$%"); idx > 0 {
			resp = resp[idx:]
		}

		if resp[0] == '%' {
			// If the first character is a % (instead of $) the stub sent us a
			// notification packet, this is weird since we specifically claimed that
			// we don't support notifications of any kind, but it should be safe to
			// ignore regardless.
			continue
		}

		if !conn.ack {
			break
		}

		if checksumok(resp, csum[:]) {
			conn.sendack('+')
			break
		}
		if attempt > conn.maxTransmitAttempts {
			conn.sendack('+')
			return nil, ErrTooManyAttempts
		}
		attempt++
		conn.sendack('-')
	}

	if binary {
		conn.inbuf, resp = binarywiredecode(resp, conn.inbuf)
	} else {
		conn.inbuf, resp = wiredecode(resp, conn.inbuf)
	}

	if len(resp) == 0 || (resp[0] == 'E' && !binary && isErrorReply(resp)) {
		cmdstr := ""
		if cmd != nil {
			cmdstr = string(cmd)
		}
		return nil, &ProtocolError{context, cmdstr, string(resp)}
	}

	return resp, nil
}

// isErrorReply reports whether resp has the form Exx.
func isErrorReply(resp []byte) bool {
	if len(resp) != 3 || resp[0] != 'E' {
		return false
	}
	_, err := strconv.ParseUint(string(resp[1:]), 16, 8)
	return err == nil
}

// Readack reads one byte from stub, returns true if the byte is '+'
func (conn *gdbConn) readack() bool {
	b, err := conn.rdr.ReadByte()
	if err != nil {
		return false
	}
	conn.log.Debugf("-> %s", string(b))
	return b == '+'
}

// Sendack executes an ack character, c must be either '+' or '-'
func (conn *gdbConn) sendack(c byte) {
	if c != '+' && c != '-' {
		panic(fmt.Errorf("sendack(%c)", c))
	}
	conn.conn.Write([]byte{c})
	conn.log.Debugf("<- %s", string(c))
}

// escapeXor is the value the gdb remote protocol uses to escape characters
const escapeXor byte = 0x20

// wiredecode decodes the contents of in into buf.
// If buf is nil it will be allocated ex-novo, if the size of buf is not
// enough to hold the decoded contents it will be grown.
// Returns the newly allocated buffer as newbuf and the message contents as
// msg.
func wiredecode(in, buf []byte) (newbuf, msg []byte) {
	if buf != nil {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, 256)
	}

	start := 1

	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case '{': // escape
			if i+1 >= len(in) {
				buf = append(buf, ch)
			} else {
				buf = append(buf, in[i+1]^escapeXor)
				i++
			}
		case ':':
			buf = append(buf, ch)
			if i == 3 {
				// we just read the sequence identifier
				start = i + 1
			}
		case '#': // end of packet
			return buf, buf[start:]
		case '*': // runlength encoding marker
			if i+1 >= len(in) || i == 0 {
				buf = append(buf, ch)
			} else {
				n := in[i+1] - 29
				r := buf[len(buf)-1]
				for j := uint8(0); j < n; j++ {
					buf = append(buf, r)
				}
				i++
			}
		default:
			buf = append(buf, ch)
		}
	}
	return buf, buf[start:]
}

// binarywiredecode is like wiredecode but decodes the wire encoding for
// binary packets, such as the 'x' and 'X' packets as well as all the json
// packets used by lldb/debugserver.
func binarywiredecode(in, buf []byte) (newbuf, msg []byte) {
	if buf != nil {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, 256)
	}

	start := 1

	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case '}': // escape
			if i+1 >= len(in) {
				buf = append(buf, ch)
			} else {
				buf = append(buf, in[i+1]^escapeXor)
				i++
			}
		case '#': // end of packet
			return buf, buf[start:]
		default:
			buf = append(buf, ch)
		}
	}
	return buf, buf[start:]
}

// Checksumok checks that checksum is a valid checksum for packet.
func checksumok(packet, checksumBuf []byte) bool {
	if packet[0] != '$' {
		return false
	}

	sum := checksum(packet)
	tgt, err := strconv.ParseUint(string(checksumBuf), 16, 8)
	if err != nil {
		return false
	}
	return sum == uint8(tgt)
}

func checksum(packet []byte) (sum uint8) {
	for i := 1; i < len(packet); i++ {
		if packet[i] == '#' {
			return sum
		}
		sum += packet[i]
	}
	return sum
}
