// Package security implements the per-session security policy: capability
// checks, path access control, environment-variable allowlisting, and the
// stateless input validator.
package security

// CapabilityKind enumerates the capability variants a session can hold.
type CapabilityKind int

const (
	FileRead CapabilityKind = iota
	FileWrite
	ProcessSpawn
	NetworkAccess
	SystemInfo
	TempFileAccess
)

func (k CapabilityKind) String() string {
	switch k {
	case FileRead:
		return "FileRead"
	case FileWrite:
		return "FileWrite"
	case ProcessSpawn:
		return "ProcessSpawn"
	case NetworkAccess:
		return "NetworkAccess"
	case SystemInfo:
		return "SystemInfo"
	case TempFileAccess:
		return "TempFileAccess"
	default:
		return "Unknown"
	}
}

// Capability is a typed permission. Path is populated for FileRead/FileWrite,
// Host for NetworkAccess; both are ignored for the remaining kinds.
type Capability struct {
	Kind CapabilityKind
	Path string
	Host string
}

// CapFileRead builds a FileRead capability scoped to path.
func CapFileRead(path string) Capability { return Capability{Kind: FileRead, Path: path} }

// CapFileWrite builds a FileWrite capability scoped to path.
func CapFileWrite(path string) Capability { return Capability{Kind: FileWrite, Path: path} }

// CapNetworkAccess builds a NetworkAccess capability scoped to host.
func CapNetworkAccess(host string) Capability { return Capability{Kind: NetworkAccess, Host: host} }

// CapProcessSpawn is the process-spawn capability singleton.
func CapProcessSpawn() Capability { return Capability{Kind: ProcessSpawn} }

// CapSystemInfo is the system-info capability singleton.
func CapSystemInfo() Capability { return Capability{Kind: SystemInfo} }

// CapTempFileAccess is the temp-file-access capability singleton.
func CapTempFileAccess() Capability { return Capability{Kind: TempFileAccess} }

// exactKey identifies non-path capabilities for set membership checks.
func (c Capability) exactKey() Capability {
	return Capability{Kind: c.Kind}
}

// ResourceLimits bounds memory, CPU time, handle, connection, child-process
// and disk usage for a session. Defaults mirror the reference implementation.
type ResourceLimits struct {
	MaxMemoryMB           uint64
	MaxCPUTimeMS           uint64
	MaxFileHandles         uint32
	MaxNetworkConnections  uint32
	MaxChildProcesses      uint8
	MaxDiskUsageMB         uint64
}

// DefaultResourceLimits returns the baseline limits applied to a new session.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:          512,
		MaxCPUTimeMS:         30000,
		MaxFileHandles:       100,
		MaxNetworkConnections: 10,
		MaxChildProcesses:    5,
		MaxDiskUsageMB:       1024,
	}
}
