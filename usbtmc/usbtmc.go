/*Package usbtmc speaks the USB Test and Measurement Class bulk protocol
to bench instruments.

A Session wraps one exclusively claimed USB device.  Messages are moved
with bulk transfers; each transfer begins with the 12-byte header from the
USBTMC standard (Table 3 for host->device, Table 4 for read requests) and
is padded to 4-byte alignment.  Replies are reassembled across transfers
until the device sets the EOM bit.

Devices are located by the serial number burned into their USB string
descriptors, not by VID/PID pairs, because a bench may carry several
instruments from the same vendor.  Opening retries briefly under backoff;
instruments enumerate slowly right after they are plugged in or reset.
*/
package usbtmc

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/ammarkh95/gopm/comm"
)

const (
	reserved = 0x00

	// bulk-out message IDs, USBTMC standard table 2
	msgDevDepOut   = 0x01
	msgReqDevDepIn = 0x02

	// KeysightVID is the USB vendor ID shared by Keysight (Agilent) gear.
	KeysightVID = 0x0957

	// DefaultTimeout bounds a single bulk read.  Sweeping instruments
	// block the reply until acquisition finishes and need a much larger
	// value; see SourceMeasure in the keysight package.
	DefaultTimeout = 3 * time.Second

	// one bulk-in request's worth of reply
	readBufSize = 4096

	alignment = 4
)

// bTagGen hands out the transfer identifiers required by the standard.
// Tags cycle 1..255; zero is never issued.
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag is the complement check byte at header offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader encodes a DEV_DEP_MSG_OUT header for a payload of
// datalen bytes.  EOM is always set; commands are never split.
func encBulkOutHeader(tag byte, datalen int) [12]byte {
	out := [12]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader encodes a REQUEST_DEV_DEP_MSG_IN header asking for up
// to bufsize reply bytes, terminated on term when term is non-nil.
func encBulkInHeader(tag byte, bufsize int, term *byte) [12]byte {
	out := [12]byte{}
	out[0] = msgReqDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if term != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *term
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// Session is an exclusively claimed USBTMC instrument.  It satisfies
// comm.Session.  Methods are synchronous and must not be called
// concurrently; one request is in flight at a time.
type Session struct {
	// Timeout bounds each bulk transfer.
	Timeout time.Duration

	tagger bTagGen
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closed bool
}

// NewSession claims the instrument whose USB serial number contains
// serial.  Only Keysight-vendor devices are considered.  The search and
// claim is retried under exponential backoff for a few seconds, since
// devices enumerate slowly after plug-in or reset.  timeout of zero
// means DefaultTimeout.
func NewSession(serial string, timeout time.Duration) (*Session, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	s := &Session{Timeout: timeout}
	try := func() error {
		return s.claim(serial)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 1 * time.Second
	bo.MaxElapsedTime = 3 * time.Second
	err := backoff.Retry(try, bo)
	if err != nil {
		return nil, errors.Wrapf(err, "opening instrument with serial %q", serial)
	}
	return s, nil
}

func (s *Session) claim(serial string) error {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(KeysightVID)
	})
	// OpenDevices may error on one device while others opened fine;
	// keep looking before giving up
	var match *gousb.Device
	for _, dev := range devs {
		if match != nil {
			dev.Close()
			continue
		}
		sn, snErr := dev.SerialNumber()
		if snErr == nil && strings.Contains(sn, serial) {
			match = dev
			continue
		}
		dev.Close()
	}
	if match == nil {
		ctx.Close()
		if err != nil {
			return err
		}
		return errors.Errorf("no USB device with serial %q", serial)
	}
	if err := match.SetAutoDetach(true); err != nil {
		match.Close()
		ctx.Close()
		return err
	}
	iface, done, err := match.DefaultInterface()
	if err != nil {
		match.Close()
		ctx.Close()
		return err
	}
	in, out, err := bulkEndpoints(iface)
	if err != nil {
		done()
		match.Close()
		ctx.Close()
		return err
	}
	s.ctx = ctx
	s.device = match
	s.iface = iface
	s.done = done
	s.in = in
	s.out = out
	return nil
}

// bulkEndpoints resolves the first bulk IN/OUT pair on the interface.
// The two supported instruments expose their TMC endpoints at different
// numbers, so the pair is discovered rather than hardcoded.
func bulkEndpoints(iface *gousb.Interface) (*gousb.InEndpoint, *gousb.OutEndpoint, error) {
	var in *gousb.InEndpoint
	var out *gousb.OutEndpoint
	for _, desc := range iface.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch desc.Direction {
		case gousb.EndpointDirectionIn:
			if in == nil {
				ep, err := iface.InEndpoint(desc.Number)
				if err != nil {
					return nil, nil, err
				}
				in = ep
			}
		case gousb.EndpointDirectionOut:
			if out == nil {
				ep, err := iface.OutEndpoint(desc.Number)
				if err != nil {
					return nil, nil, err
				}
				out = ep
			}
		}
	}
	if in == nil || out == nil {
		return nil, nil, errors.New("interface has no bulk endpoint pair")
	}
	return in, out, nil
}

// Write sends one complete device-dependent message.  A trailing newline
// is appended if absent; the instruments treat it as the message
// terminator.
func (s *Session) Write(cmd string) error {
	if s.closed {
		return comm.ErrNotConnected
	}
	if !strings.HasSuffix(cmd, "\n") {
		cmd = cmd + "\n"
	}
	payload := []byte(cmd)
	hdr := encBulkOutHeader(s.tagger.next(), len(payload))
	buf := append(hdr[:], payload...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	_, err := s.out.WriteContext(ctx, buf)
	return err
}

// Read retrieves one complete reply, reassembling across bulk transfers
// until the device reports EOM.  The trailing terminator is stripped.
func (s *Session) Read() (string, error) {
	if s.closed {
		return "", comm.ErrNotConnected
	}
	term := byte('\n')
	var reply []byte
	for {
		hdr := encBulkInHeader(s.tagger.next(), readBufSize, &term)
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		_, err := s.out.WriteContext(ctx, hdr[:])
		if err != nil {
			cancel()
			return "", errors.Wrap(err, "sending read request")
		}
		buf := make([]byte, readBufSize+12)
		n, err := s.in.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			return "", err
		}
		if n < 12 {
			return "", errors.Errorf("bulk-in transfer of %d bytes, need at least the 12 byte header", n)
		}
		size := int(binary.LittleEndian.Uint32(buf[4:8]))
		eom := buf[8]&0x01 != 0
		data := buf[12:n]
		if size < len(data) { // discard alignment padding
			data = data[:size]
		}
		reply = append(reply, data...)
		if eom {
			break
		}
	}
	return strings.TrimRight(string(reply), "\r\n"), nil
}

// Query writes cmd and reads the reply.
func (s *Session) Query(cmd string) (string, error) {
	err := s.Write(cmd)
	if err != nil {
		return "", err
	}
	return s.Read()
}

// Close releases the interface and USB context.  Safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.done != nil {
		s.done()
	}
	var err error
	if s.device != nil {
		err = s.device.Close()
	}
	if s.ctx != nil {
		if cerr := s.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
