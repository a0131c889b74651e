package port_reader

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// Tolerance before the reader gives up.
const MaxConsecutiveErrors = 10

var ErrTooManyErrors = errors.New("too many consecutive serial errors")

type P1Reader struct {
	port       string
	baudrate   uint
	logger     *slog.Logger
	retryDelay time.Duration
	open       func(serial.OpenOptions) (io.ReadWriteCloser, error)
}
