package cbffi

// ABIVersion identifies the layout of Data, Result and Progress in cbffi.h.
// It changes only when a binding would need to be regenerated.
const ABIVersion = 1

// Version and Revision are set at build time with -ldflags -X.
var (
	Version  = "v0.0.0-in-progress"
	Revision = "unknown"
)

// WrapperVersion returns the semantic version populated at build time via
// ldflags. In development it defaults to v0.0.0-in-progress.
func WrapperVersion() string {
	return Version
}

// VersionInfo is the payload returned by cbffi_version.
type VersionInfo struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
	ABI      int    `json:"abi"`
}

// Info reports the wrapper version and ABI level.
func Info() VersionInfo {
	return VersionInfo{Version: Version, Revision: Revision, ABI: ABIVersion}
}
