package ftppool

import (
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"
)

// Conn is the remote-protocol surface the pool leases out. It enumerates the
// operations the pipeline needs instead of forwarding arbitrary method names;
// callers needing anything else go through Pool.WithConn.
type Conn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	MakeDir(path string) error
	Rename(from, to string) error
	FileSize(path string) (int64, error)
	NoOp() error
	Quit() error
}

// DialFunc establishes one authenticated connection. Injected for tests.
type DialFunc func() (Conn, error)

// ftpConn adapts *ftp.ServerConn to the Conn interface.
type ftpConn struct {
	c *ftp.ServerConn
}

func (f *ftpConn) List(path string) ([]*ftp.Entry, error) { return f.c.List(path) }

func (f *ftpConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := f.c.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *ftpConn) Stor(path string, r io.Reader) error   { return f.c.Stor(path, r) }
func (f *ftpConn) Delete(path string) error              { return f.c.Delete(path) }
func (f *ftpConn) MakeDir(path string) error             { return f.c.MakeDir(path) }
func (f *ftpConn) Rename(from, to string) error          { return f.c.Rename(from, to) }
func (f *ftpConn) FileSize(path string) (int64, error)   { return f.c.FileSize(path) }
func (f *ftpConn) NoOp() error                           { return f.c.NoOp() }
func (f *ftpConn) Quit() error                           { return f.c.Quit() }

// FTPDialer returns a DialFunc that connects and logs in to the configured
// endpoint.
func FTPDialer(cfg Config) DialFunc {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return func() (Conn, error) {
		c, err := ftp.Dial(addr, ftp.DialWithTimeout(cfg.DialTimeout))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("login %s@%s: %w", cfg.User, addr, err)
		}
		return &ftpConn{c: c}, nil
	}
}

// Config tunes the pool. Zero values are replaced by the defaults below.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	MaxConn      int
	ConnectGap   time.Duration
	IdleTimeout  time.Duration
	DialTimeout  time.Duration
	OpRetries    int
	LocalRetries int
	RetryBackoff time.Duration
	BreakerBase  time.Duration
	BreakerCap   int
}

func (c Config) withDefaults() Config {
	if c.MaxConn <= 0 {
		c.MaxConn = 5
	}
	if c.ConnectGap <= 0 {
		c.ConnectGap = time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.OpRetries < 0 {
		c.OpRetries = 0
	}
	if c.LocalRetries <= 0 {
		c.LocalRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.BreakerBase <= 0 {
		c.BreakerBase = 2 * time.Second
	}
	if c.BreakerCap <= 0 {
		c.BreakerCap = 6
	}
	return c
}
