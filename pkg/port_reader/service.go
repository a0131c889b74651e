// Reads raw DSMR telegrams straight from the meter's P1 port.
// Used when no broker relays the telegrams.
package port_reader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// Initialize a new P1Reader client.
func NewP1Reader(port string, baudrate uint, logger *slog.Logger) *P1Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &P1Reader{
		port:       port,
		baudrate:   baudrate,
		logger:     logger.With("component", "port_reader", "port", port),
		retryDelay: time.Second,
		open:       serial.Open,
	}
}

func (p *P1Reader) options() serial.OpenOptions {
	return serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
}

// Run hands every framed telegram to handle until ctx is cancelled.
// The port is reopened after read errors. Run gives up after
// MaxConsecutiveErrors failures without a telegram in between.
func (p *P1Reader) Run(ctx context.Context, handle func(telegram string)) error {
	consecutiveErrors := 0
	for {
		delivered, err := p.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			consecutiveErrors = 0
		}
		consecutiveErrors++
		p.logger.Warn("reading telegram failed",
			"attempt", consecutiveErrors, "max", MaxConsecutiveErrors, "error", err)
		if consecutiveErrors >= MaxConsecutiveErrors {
			return fmt.Errorf("%w: %w", ErrTooManyErrors, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.retryDelay):
		}
	}
}

// session opens the port and reads until the first error.
func (p *P1Reader) session(ctx context.Context, handle func(string)) (int, error) {
	port, err := p.open(p.options())
	if err != nil {
		return 0, fmt.Errorf("failed to open serial port: %w", err)
	}
	p.logger.Info("connected to P1 port")

	var once sync.Once
	closePort := func() {
		once.Do(func() {
			port.Close()
			p.logger.Info("disconnected from P1 port")
		})
	}
	// Closing the port unblocks a pending read.
	stop := context.AfterFunc(ctx, closePort)
	defer stop()
	defer closePort()

	reader := bufio.NewReader(port)
	delivered := 0
	for {
		telegram, err := ReadTelegram(reader)
		if err != nil {
			return delivered, err
		}
		handle(telegram)
		delivered++
	}
}

// ReadTelegram returns the next telegram from r, from the line starting
// with "/" through the line starting with "!" (which carries the CRC).
// Bytes before the first "/" are skipped.
func ReadTelegram(r *bufio.Reader) (string, error) {
	var buffer strings.Builder
	inTelegram := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && inTelegram {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			// Start of telegram
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(strings.TrimSpace(line), "!") {
				return buffer.String(), nil
			}
		}
	}
}
