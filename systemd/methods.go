package systemd

import (
	"context"

	"unitbus/dbus"
	"unitbus/rpc"
)

func manager[R any](member, in, out string, decode func(*rpc.Reply) (R, error)) rpc.Method[R] {
	return rpc.Method[R]{Interface: ManagerInterface, Member: member, In: in, Out: out, Decode: decode}
}

func action(member, in string) rpc.Method[struct{}] {
	return manager(member, in, "", rpc.None)
}

func decodeList[D any, T any](f func(D) T) func(*rpc.Reply) ([]T, error) {
	return func(r *rpc.Reply) ([]T, error) {
		var dtos []D
		if err := r.Store(&dtos); err != nil {
			return nil, err
		}
		return convert(dtos, f), nil
	}
}

func decodeEnable(r *rpc.Reply) (EnableResult, error) {
	var (
		carries bool
		changes []unitFileChangeDTO
	)
	if err := r.Store(&carries, &changes); err != nil {
		return EnableResult{}, err
	}
	return EnableResult{CarriesInstallInfo: carries, Changes: convert(changes, unitFileChangeDTO.toDomain)}, nil
}

var (
	decodeUnits   = decodeList(unitStatusDTO.toDomain)
	decodeJobs    = decodeList(jobDTO.toDomain)
	decodeFiles   = decodeList(unitFileDTO.toDomain)
	decodeChanges = decodeList(unitFileChangeDTO.toDomain)
	decodePath    = rpc.Single[dbus.ObjectPath]
	decodeString  = rpc.Single[string]
)

// Manager operation descriptors.
var (
	mGetUnit                = manager("GetUnit", "s", "o", decodePath)
	mGetUnitByPID           = manager("GetUnitByPID", "u", "o", decodePath)
	mLoadUnit               = manager("LoadUnit", "s", "o", decodePath)
	mStartUnit              = manager("StartUnit", "ss", "o", decodePath)
	mStopUnit               = manager("StopUnit", "ss", "o", decodePath)
	mReloadUnit             = manager("ReloadUnit", "ss", "o", decodePath)
	mRestartUnit            = manager("RestartUnit", "ss", "o", decodePath)
	mTryRestartUnit         = manager("TryRestartUnit", "ss", "o", decodePath)
	mReloadOrRestartUnit    = manager("ReloadOrRestartUnit", "ss", "o", decodePath)
	mReloadOrTryRestartUnit = manager("ReloadOrTryRestartUnit", "ss", "o", decodePath)
	mStartUnitReplace       = manager("StartUnitReplace", "sss", "o", decodePath)
	mStartTransientUnit     = manager("StartTransientUnit", "ssa(sv)a(sa(sv))", "o", decodePath)
	mKillUnit               = action("KillUnit", "ssi")
	mResetFailedUnit        = action("ResetFailedUnit", "s")
	mSetUnitProperties      = action("SetUnitProperties", "sba(sv)")
	mListUnits              = manager("ListUnits", "", "a(ssssssouso)", decodeUnits)
	mListUnitsFiltered      = manager("ListUnitsFiltered", "as", "a(ssssssouso)", decodeUnits)
	mListUnitsByNames       = manager("ListUnitsByNames", "as", "a(ssssssouso)", decodeUnits)

	mGetJob    = manager("GetJob", "u", "o", decodePath)
	mCancelJob = action("CancelJob", "u")
	mClearJobs = action("ClearJobs", "")
	mListJobs  = manager("ListJobs", "", "a(usssoo)", decodeJobs)

	mSubscribe        = action("Subscribe", "")
	mUnsubscribe      = action("Unsubscribe", "")
	mDump             = manager("Dump", "", "s", decodeString)
	mReload           = action("Reload", "")
	mReexecute        = action("Reexecute", "")
	mResetFailed      = action("ResetFailed", "")
	mSetEnvironment   = action("SetEnvironment", "as")
	mUnsetEnvironment = action("UnsetEnvironment", "as")
	mExit             = action("Exit", "")
	mReboot           = action("Reboot", "")
	mPowerOff         = action("PowerOff", "")
	mHalt             = action("Halt", "")
	mKExec            = action("KExec", "")
	mSwitchRoot       = action("SwitchRoot", "ss")

	mListUnitFiles    = manager("ListUnitFiles", "", "a(ss)", decodeFiles)
	mGetUnitFileState = manager("GetUnitFileState", "s", "s", decodeString)
	mEnableUnitFiles  = manager("EnableUnitFiles", "asbb", "ba(sss)", decodeEnable)
	mDisableUnitFiles = manager("DisableUnitFiles", "asb", "a(sss)", decodeChanges)
	mGetDefaultTarget = manager("GetDefaultTarget", "", "s", decodeString)
	mSetDefaultTarget = manager("SetDefaultTarget", "sb", "a(sss)", decodeChanges)
)

// GetUnit returns the object path of a loaded unit.
func (c *Client) GetUnit(ctx context.Context, name string) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mGetUnit, name)
}

// GetUnitByPID returns the unit a process belongs to.
func (c *Client) GetUnitByPID(ctx context.Context, pid uint32) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mGetUnitByPID, pid)
}

// LoadUnit loads a unit if needed and returns its object path.
func (c *Client) LoadUnit(ctx context.Context, name string) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mLoadUnit, name)
}

// StartUnit enqueues a start job and returns the job path.
func (c *Client) StartUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mStartUnit, name, mode)
}

func (c *Client) StopUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mStopUnit, name, mode)
}

func (c *Client) ReloadUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mReloadUnit, name, mode)
}

func (c *Client) RestartUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mRestartUnit, name, mode)
}

func (c *Client) TryRestartUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mTryRestartUnit, name, mode)
}

func (c *Client) ReloadOrRestartUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mReloadOrRestartUnit, name, mode)
}

func (c *Client) ReloadOrTryRestartUnit(ctx context.Context, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mReloadOrTryRestartUnit, name, mode)
}

// StartUnitReplace starts name while replacing a job queued for oldUnit.
func (c *Client) StartUnitReplace(ctx context.Context, oldUnit, name string, mode Mode) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mStartUnitReplace, oldUnit, name, mode)
}

// StartTransientUnit creates and starts a unit that exists only at runtime.
func (c *Client) StartTransientUnit(ctx context.Context, name string, mode Mode, props []Property, aux ...AuxUnit) (dbus.ObjectPath, error) {
	if props == nil {
		props = []Property{}
	}
	if aux == nil {
		aux = []AuxUnit{}
	}
	return rpc.Invoke(ctx, c.ep, mStartTransientUnit, name, mode, props, aux)
}

// KillUnit sends signal to the processes of name selected by who.
func (c *Client) KillUnit(ctx context.Context, name string, who Who, signal int32) error {
	_, err := rpc.Invoke(ctx, c.ep, mKillUnit, name, who, signal)
	return err
}

func (c *Client) ResetFailedUnit(ctx context.Context, name string) error {
	_, err := rpc.Invoke(ctx, c.ep, mResetFailedUnit, name)
	return err
}

// SetUnitProperties changes properties of a loaded unit. With runtime set the
// change is lost on reboot.
func (c *Client) SetUnitProperties(ctx context.Context, name string, runtime bool, props []Property) error {
	if props == nil {
		props = []Property{}
	}
	_, err := rpc.Invoke(ctx, c.ep, mSetUnitProperties, name, runtime, props)
	return err
}

func (c *Client) ListUnits(ctx context.Context) ([]UnitStatus, error) {
	return rpc.Invoke(ctx, c.ep, mListUnits)
}

// ListUnitsFiltered lists units whose active or sub state is one of states.
func (c *Client) ListUnitsFiltered(ctx context.Context, states []string) ([]UnitStatus, error) {
	return rpc.Invoke(ctx, c.ep, mListUnitsFiltered, nonNil(states))
}

func (c *Client) ListUnitsByNames(ctx context.Context, names []string) ([]UnitStatus, error) {
	return rpc.Invoke(ctx, c.ep, mListUnitsByNames, nonNil(names))
}

// GetJob returns the object path of a queued job.
func (c *Client) GetJob(ctx context.Context, id uint32) (dbus.ObjectPath, error) {
	return rpc.Invoke(ctx, c.ep, mGetJob, id)
}

func (c *Client) CancelJob(ctx context.Context, id uint32) error {
	_, err := rpc.Invoke(ctx, c.ep, mCancelJob, id)
	return err
}

func (c *Client) ClearJobs(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mClearJobs)
	return err
}

func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	return rpc.Invoke(ctx, c.ep, mListJobs)
}

// Subscribe asks the manager to emit signals. The subscription belongs to
// whichever pooled link carries the call; use Watch to receive signals.
func (c *Client) Subscribe(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mSubscribe)
	return err
}

func (c *Client) Unsubscribe(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mUnsubscribe)
	return err
}

// Dump returns the manager's human readable state dump.
func (c *Client) Dump(ctx context.Context) (string, error) {
	return rpc.Invoke(ctx, c.ep, mDump)
}

// Reload reloads all unit files (daemon-reload).
func (c *Client) Reload(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mReload)
	return err
}

func (c *Client) Reexecute(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mReexecute)
	return err
}

func (c *Client) ResetFailed(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mResetFailed)
	return err
}

// SetEnvironment adds NAME=value assignments to the manager environment.
func (c *Client) SetEnvironment(ctx context.Context, assignments []string) error {
	_, err := rpc.Invoke(ctx, c.ep, mSetEnvironment, nonNil(assignments))
	return err
}

func (c *Client) UnsetEnvironment(ctx context.Context, names []string) error {
	_, err := rpc.Invoke(ctx, c.ep, mUnsetEnvironment, nonNil(names))
	return err
}

func (c *Client) Exit(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mExit)
	return err
}

func (c *Client) Reboot(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mReboot)
	return err
}

func (c *Client) PowerOff(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mPowerOff)
	return err
}

func (c *Client) Halt(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mHalt)
	return err
}

func (c *Client) KExec(ctx context.Context) error {
	_, err := rpc.Invoke(ctx, c.ep, mKExec)
	return err
}

func (c *Client) SwitchRoot(ctx context.Context, newRoot, init string) error {
	_, err := rpc.Invoke(ctx, c.ep, mSwitchRoot, newRoot, init)
	return err
}

func (c *Client) ListUnitFiles(ctx context.Context) ([]UnitFile, error) {
	return rpc.Invoke(ctx, c.ep, mListUnitFiles)
}

// GetUnitFileState returns e.g. "enabled", "disabled" or "static".
func (c *Client) GetUnitFileState(ctx context.Context, file string) (string, error) {
	return rpc.Invoke(ctx, c.ep, mGetUnitFileState, file)
}

func (c *Client) EnableUnitFiles(ctx context.Context, files []string, runtime, force bool) (EnableResult, error) {
	return rpc.Invoke(ctx, c.ep, mEnableUnitFiles, nonNil(files), runtime, force)
}

func (c *Client) DisableUnitFiles(ctx context.Context, files []string, runtime bool) ([]UnitFileChange, error) {
	return rpc.Invoke(ctx, c.ep, mDisableUnitFiles, nonNil(files), runtime)
}

func (c *Client) GetDefaultTarget(ctx context.Context) (string, error) {
	return rpc.Invoke(ctx, c.ep, mGetDefaultTarget)
}

func (c *Client) SetDefaultTarget(ctx context.Context, name string, force bool) ([]UnitFileChange, error) {
	return rpc.Invoke(ctx, c.ep, mSetDefaultTarget, name, force)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
