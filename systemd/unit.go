package systemd

import (
	"unitbus/dbus"
)

// UnitStatus is one entry of ListUnits.
type UnitStatus struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	// Following names the unit this one follows in state, if any.
	Following string
	Path      dbus.ObjectPath
	JobID     uint32
	JobType   string
	JobPath   dbus.ObjectPath
}

// unitStatusDTO is the (ssssssouso) wire tuple. Field order is the wire order.
type unitStatusDTO struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	Following   string
	Path        dbus.ObjectPath
	JobID       uint32
	JobType     string
	JobPath     dbus.ObjectPath
}

func (d unitStatusDTO) toDomain() UnitStatus {
	return UnitStatus{
		Name:        d.Name,
		Description: d.Description,
		LoadState:   d.LoadState,
		ActiveState: d.ActiveState,
		SubState:    d.SubState,
		Following:   d.Following,
		Path:        d.Path,
		JobID:       d.JobID,
		JobType:     d.JobType,
		JobPath:     d.JobPath,
	}
}

func (u UnitStatus) toDTO() unitStatusDTO {
	return unitStatusDTO{
		Name:        u.Name,
		Description: u.Description,
		LoadState:   u.LoadState,
		ActiveState: u.ActiveState,
		SubState:    u.SubState,
		Following:   u.Following,
		Path:        u.Path,
		JobID:       u.JobID,
		JobType:     u.JobType,
		JobPath:     u.JobPath,
	}
}

// UnitFile is one entry of ListUnitFiles.
type UnitFile struct {
	Path  string
	State string
}

type unitFileDTO struct {
	Path  string
	State string
}

func (d unitFileDTO) toDomain() UnitFile { return UnitFile{Path: d.Path, State: d.State} }

func (u UnitFile) toDTO() unitFileDTO { return unitFileDTO{Path: u.Path, State: u.State} }

// UnitFileChange describes one symlink created or removed by an
// enable/disable call.
type UnitFileChange struct {
	Type        string
	Filename    string
	Destination string
}

type unitFileChangeDTO struct {
	Type        string
	Filename    string
	Destination string
}

func (d unitFileChangeDTO) toDomain() UnitFileChange {
	return UnitFileChange{Type: d.Type, Filename: d.Filename, Destination: d.Destination}
}

func (c UnitFileChange) toDTO() unitFileChangeDTO {
	return unitFileChangeDTO{Type: c.Type, Filename: c.Filename, Destination: c.Destination}
}

// EnableResult is the reply of EnableUnitFiles.
type EnableResult struct {
	CarriesInstallInfo bool
	Changes            []UnitFileChange
}

// Property is one (sv) unit property of a transient unit.
type Property struct {
	Name  string
	Value dbus.Variant
}

// NewProperty builds a transient unit property.
func NewProperty(name string, value any) Property {
	return Property{Name: name, Value: dbus.MakeVariant(value)}
}

// AuxUnit is an auxiliary unit created alongside a transient unit.
type AuxUnit struct {
	Name       string
	Properties []Property
}

func convert[D any, T any](in []D, f func(D) T) []T {
	out := make([]T, len(in))
	for i, d := range in {
		out[i] = f(d)
	}
	return out
}
