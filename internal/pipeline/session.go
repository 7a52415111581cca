package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/saviobatista/uavlog/internal/schema"
)

// sessionTimeLayout is the YY_MM_DD__HH_MM_SS prefix the autopilot gives its
// log files
const sessionTimeLayout = "06_01_02__15_04_05"

// Session is one schema document and the frame buffer recorded with it
type Session struct {
	ID     string
	Schema []byte
	Data   []byte
	Format schema.Format
}

// SessionInfo is the recording time encoded in a session name
type SessionInfo struct {
	Time   time.Time
	Parsed bool
}

// ParseSessionInfo reads the recording time from a session name such as
// 25_07_09__15_38_54 or 25_07_09__15_38_54.log. Names that do not follow
// the convention, or carry an impossible date, are returned unparsed.
func ParseSessionInfo(name string) SessionInfo {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if len(base) < len(sessionTimeLayout) {
		return SessionInfo{}
	}
	t, err := time.Parse(sessionTimeLayout, base[:len(sessionTimeLayout)])
	if err != nil {
		return SessionInfo{}
	}
	return SessionInfo{Time: t, Parsed: true}
}

// SessionIDFromPath derives a session id from an input file name by
// dropping the directory and the extension
func SessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
