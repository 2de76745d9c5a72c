package systemd

import (
	"unitbus/dbus"
)

// Job is one entry of ListJobs.
type Job struct {
	ID       uint32
	Unit     string
	Type     string
	State    string
	Path     dbus.ObjectPath
	UnitPath dbus.ObjectPath
}

// jobDTO is the (usssoo) wire tuple.
type jobDTO struct {
	ID       uint32
	Unit     string
	Type     string
	State    string
	Path     dbus.ObjectPath
	UnitPath dbus.ObjectPath
}

func (d jobDTO) toDomain() Job {
	return Job{ID: d.ID, Unit: d.Unit, Type: d.Type, State: d.State, Path: d.Path, UnitPath: d.UnitPath}
}

func (j Job) toDTO() jobDTO {
	return jobDTO{ID: j.ID, Unit: j.Unit, Type: j.Type, State: j.State, Path: j.Path, UnitPath: j.UnitPath}
}
