package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DE

const reportSize = 64

// maximum payload of a single transfer report
const maxChunk = 60

// HID commands
const (
	cmdChipStatus          = 0x10
	cmdCancelTransfer      = 0x11
	cmdSetTransferSettings = 0x40
	cmdGetTransferSettings = 0x41
	cmdTransfer            = 0x42
)

// response status codes
const (
	statusOK              = 0x00
	statusBusUnavailable  = 0xF7
	statusTransferPending = 0xF8
)

// SPI engine status reported by a transfer response
const (
	engineFinished = 0x10
	engineStarted  = 0x20
	enginePending  = 0x30
)

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrTransferStalled = errors.New("spi transfer did not complete")

// TransferSettings mirrors the MCP2210 volatile SPI transfer settings.
type TransferSettings struct {
	BitRate             uint32 `yaml:"bit_rate"`
	IdleCS              uint16 `yaml:"idle_cs"`
	ActiveCS            uint16 `yaml:"active_cs"`
	CSToDataDelay       uint16 `yaml:"cs_to_data_delay"`
	DataToCSDelay       uint16 `yaml:"data_to_cs_delay"`
	InterByteDelay      uint16 `yaml:"inter_byte_delay"`
	BytesPerTransaction uint16 `yaml:"bytes_per_transaction"`
	Mode                byte   `yaml:"mode"`
}

func (s TransferSettings) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.BitRate)
	binary.LittleEndian.PutUint16(buf[4:6], s.IdleCS)
	binary.LittleEndian.PutUint16(buf[6:8], s.ActiveCS)
	binary.LittleEndian.PutUint16(buf[8:10], s.CSToDataDelay)
	binary.LittleEndian.PutUint16(buf[10:12], s.DataToCSDelay)
	binary.LittleEndian.PutUint16(buf[12:14], s.InterByteDelay)
	binary.LittleEndian.PutUint16(buf[14:16], s.BytesPerTransaction)
	buf[16] = s.Mode
}

func decodeTransferSettings(buf []byte) TransferSettings {
	return TransferSettings{
		BitRate:             binary.LittleEndian.Uint32(buf[0:4]),
		IdleCS:              binary.LittleEndian.Uint16(buf[4:6]),
		ActiveCS:            binary.LittleEndian.Uint16(buf[6:8]),
		CSToDataDelay:       binary.LittleEndian.Uint16(buf[8:10]),
		DataToCSDelay:       binary.LittleEndian.Uint16(buf[10:12]),
		InterByteDelay:      binary.LittleEndian.Uint16(buf[12:14]),
		BytesPerTransaction: binary.LittleEndian.Uint16(buf[14:16]),
		Mode:                buf[16],
	}
}

type MCP2210Status struct {
	ReleaseRequestPending bool `yaml:"release_request_pending"`
	// BusOwner: 0 none, 1 USB bridge, 2 external master
	BusOwner         int  `yaml:"bus_owner"`
	PasswordAttempts int  `yaml:"password_attempts"`
	PasswordGuessed  bool `yaml:"password_guessed"`
}

func bufferToStatus(buffer []byte) *MCP2210Status {
	return &MCP2210Status{
		ReleaseRequestPending: buffer[2] == 0x00,
		BusOwner:              int(buffer[3]),
		PasswordAttempts:      int(buffer[4]),
		PasswordGuessed:       buffer[5] == 0x01,
	}
}

// device is the HID handle subset used by the bridge
type device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// opener returns a freshly opened HID handle for every command
type opener func() (device, error)

type MCP2210Opts struct {
	ResponseWait time.Duration
	BitRate      uint32
	Mode         byte
	// ChipSelect is the GP pin (0..8) driven low during a transfer.
	ChipSelect int
	// MaxPolls bounds the reports sent while the engine reports busy.
	MaxPolls int
}

type MCP2210Opt func(*MCP2210Opts)

func WithResponseWait(d time.Duration) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.ResponseWait = d
	}
}

func WithBitRate(rate uint32) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.BitRate = rate
	}
}

func WithMode(mode byte) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.Mode = mode
	}
}

func WithChipSelect(pin int) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.ChipSelect = pin
	}
}

// WithMaxPolls sets how many extra transfer reports are sent before a
// transfer is reported as stalled.
func WithMaxPolls(n int) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.MaxPolls = n
	}
}

var _ fieldbus.SPIBusCloser = &MCP2210{}

// MCP2210 is a Microchip USB-to-SPI bridge driven over HID reports.
type MCP2210 struct {
	mx       sync.Mutex
	config   MCP2210Opts
	open     opener
	request  []byte
	response []byte
}

func NewMCP2210(opts ...MCP2210Opt) *MCP2210 {
	return newMCP2210(hidOpener(-1), opts...)
}

// NewMCP2210At selects the bridge by enumeration index when several are
// connected.
func NewMCP2210At(index int, opts ...MCP2210Opt) *MCP2210 {
	return newMCP2210(hidOpener(index), opts...)
}

func newMCP2210(open opener, opts ...MCP2210Opt) *MCP2210 {
	config := MCP2210Opts{
		ResponseWait: 5 * time.Millisecond,
		BitRate:      1_000_000,
		Mode:         3,
		ChipSelect:   0,
		MaxPolls:     64,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2210{
		config:   config,
		open:     open,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

func hidOpener(index int) opener {
	return func() (device, error) {
		devs := hid.Enumerate(VendorID, ProductID)
		if len(devs) == 0 {
			return nil, fmt.Errorf("MCP2210 device not found")
		}
		i := index
		if i < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification")
			}
			i = 0
		}
		if i >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", i)
		}
		dev, err := devs[i].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

func (d *MCP2210) Status(ctx context.Context) (*MCP2210Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdChipStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// ReleaseBus cancels any ongoing transfer and releases the SPI bus.
func (d *MCP2210) ReleaseBus(ctx context.Context) (*MCP2210Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdCancelTransfer
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("cancel transfer failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2210) TransferSettings(ctx context.Context) (TransferSettings, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.getTransferSettings(ctx)
}

func (d *MCP2210) getTransferSettings(ctx context.Context) (TransferSettings, error) {
	d.resetBuffers()
	d.request[0] = cmdGetTransferSettings
	if err := d.send(ctx); err != nil {
		return TransferSettings{}, fmt.Errorf("get transfer settings failed: %w", err)
	}
	if d.response[1] != statusOK {
		return TransferSettings{}, ErrCommandUnsupported
	}
	return decodeTransferSettings(d.response[4:]), nil
}

func (d *MCP2210) setTransferSettings(ctx context.Context, s TransferSettings) error {
	d.resetBuffers()
	d.request[0] = cmdSetTransferSettings
	s.encode(d.request[4:])
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set transfer settings failed: %w", err)
	}
	if d.response[1] == statusBusUnavailable {
		return fieldbus.ErrBusBusy
	}
	if d.response[1] != statusOK {
		return ErrCommandFailed
	}
	return nil
}

// Exchange flattens the segments into one transaction: the bridge keeps CS
// asserted for BytesPerTransaction bytes, fed in 60-byte reports.
func (d *MCP2210) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	tx := fieldbus.Flatten(segments)
	if len(tx) == 0 {
		return nil
	}
	if len(tx) > 0xFFFF {
		return fmt.Errorf("transfer of %d bytes exceeds bridge limit", len(tx))
	}
	d.mx.Lock()
	defer d.mx.Unlock()

	settings := TransferSettings{
		BitRate:             d.config.BitRate,
		IdleCS:              0x01FF,
		ActiveCS:            0x01FF &^ (1 << d.config.ChipSelect),
		BytesPerTransaction: uint16(len(tx)),
		Mode:                d.config.Mode,
	}
	if err := d.setTransferSettings(ctx, settings); err != nil {
		return err
	}
	rx, err := d.transfer(ctx, tx)
	if err != nil {
		return err
	}
	fieldbus.Scatter(rx, segments)
	return nil
}

func (d *MCP2210) transfer(ctx context.Context, tx []byte) ([]byte, error) {
	rx := make([]byte, 0, len(tx))
	sent := 0
	for polls := 0; ; polls++ {
		if polls > d.config.MaxPolls+len(tx)/maxChunk {
			return nil, ErrTransferStalled
		}
		chunk := tx[sent:]
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		d.resetBuffers()
		d.request[0] = cmdTransfer
		d.request[1] = byte(len(chunk))
		copy(d.request[4:], chunk)
		if err := d.send(ctx); err != nil {
			return nil, fmt.Errorf("spi transfer failed: %w", err)
		}
		switch d.response[1] {
		case statusOK:
			sent += len(chunk)
		case statusTransferPending:
			// chunk not accepted, resend
			continue
		case statusBusUnavailable:
			return nil, fieldbus.ErrBusBusy
		default:
			return nil, fmt.Errorf("%w: status %#x", ErrCommandFailed, d.response[1])
		}
		n := int(d.response[2])
		if n > maxChunk {
			return nil, fmt.Errorf("invalid received size %d", n)
		}
		rx = append(rx, d.response[4:4+n]...)
		if d.response[3] == engineFinished && sent == len(tx) {
			if len(rx) != len(tx) {
				return nil, fmt.Errorf("short transfer: sent %d, received %d", len(tx), len(rx))
			}
			return rx, nil
		}
	}
}

func (d *MCP2210) Close() error {
	return nil
}

func (d *MCP2210) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = dev.Close()
	}()
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "node", busctx.Node(ctx), "dump", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	timer := time.NewTimer(d.config.ResponseWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "node", busctx.Node(ctx), "dump", hex.Dump(d.response))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response echo %#x does not match command %#x", d.response[0], d.request[0])
	}
	return nil
}

func (d *MCP2210) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
