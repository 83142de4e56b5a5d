package nss

import (
	"github.com/hnrobert/fega/internal/buffer"
	"github.com/hnrobert/fega/internal/record"
)

// Passwd mirrors struct passwd. String fields live in the caller buffer.
type Passwd struct {
	Name   buffer.Span
	Passwd buffer.Span
	UID    int64
	GID    int64
	Gecos  buffer.Span
	Dir    buffer.Span
	Shell  buffer.Span
}

// Shadow mirrors struct spwd.
type Shadow struct {
	Name       buffer.Span
	Pwdp       buffer.Span
	LastChange int64
	Min        int64
	Max        int64
	Warn       int64
	Inactive   int64
	Expire     int64
}

// Aging holds the shadow fields that come from local configuration.
type Aging struct {
	Min      int64
	Max      int64
	Warn     int64
	Inactive int64
	Expire   int64
}

// fillPasswd writes u into out. On ErrTooSmall out is left untouched.
func (d *Dispatcher) fillPasswd(u *record.User, out *Passwd, buf []byte) error {
	w := buffer.New(buf)
	var p Passwd
	var err error
	write := func(dst *buffer.Span, s string) {
		if err != nil {
			return
		}
		*dst, err = w.TryWrite(s)
	}
	write(&p.Name, u.Username)
	write(&p.Passwd, "x")
	write(&p.Dir, d.home(u.Username))
	write(&p.Gecos, u.Gecos)
	write(&p.Shell, d.cfg.Shell)
	if err != nil {
		return err
	}
	p.UID = u.UID
	p.GID = d.cfg.GID
	*out = p
	return nil
}

func (d *Dispatcher) fillShadow(u *record.User, out *Shadow, buf []byte) error {
	w := buffer.New(buf)
	name, err := w.TryWrite(u.Username)
	if err != nil {
		return err
	}
	pwdp, err := w.TryWrite(u.PasswordHash)
	if err != nil {
		return err
	}
	a := d.cfg.Aging
	*out = Shadow{
		Name:       name,
		Pwdp:       pwdp,
		LastChange: u.LastChanged,
		Min:        a.Min,
		Max:        a.Max,
		Warn:       a.Warn,
		Inactive:   a.Inactive,
		Expire:     a.Expire,
	}
	return nil
}

// PasswdSize is the buffer size a passwd entry for u needs.
func (d *Dispatcher) PasswdSize(u *record.User) int {
	return buffer.Need(u.Username) + buffer.Need("x") + buffer.Need(d.home(u.Username)) +
		buffer.Need(u.Gecos) + buffer.Need(d.cfg.Shell)
}

func (d *Dispatcher) home(name string) string {
	return d.cfg.HomePrefix + "/" + name
}
