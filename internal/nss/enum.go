package nss

import "syscall"

// Enumeration of the whole population is not offered.

func (d *Dispatcher) SetPwEnt() Status { return StatusUnavailable }

func (d *Dispatcher) GetPwEnt(*Passwd, []byte) (Status, syscall.Errno) {
	return StatusUnavailable, syscall.ENOENT
}

func (d *Dispatcher) EndPwEnt() Status { return StatusUnavailable }

func (d *Dispatcher) SetSpEnt() Status { return StatusUnavailable }

func (d *Dispatcher) GetSpEnt(*Shadow, []byte) (Status, syscall.Errno) {
	return StatusUnavailable, syscall.ENOENT
}

func (d *Dispatcher) EndSpEnt() Status { return StatusUnavailable }
