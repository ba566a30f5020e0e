package versioning

import (
	"fmt"
	"sync"

	"github.com/annidx/annidx/resources"
)

type Version uint32

func NewVersion(major, minor, patch uint32) Version {
	return Version(major<<16 | minor<<8 | patch)
}

func (v Version) Major() uint32 {
	return uint32(v >> 16 & 0xff)
}

func (v Version) Minor() uint32 {
	return uint32(v >> 8 & 0xff)
}

func (v Version) Patch() uint32 {
	return uint32(v & 0xff)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

func FromString(s string) Version {
	var major, minor, patch uint32
	_, err := fmt.Sscanf(s, "%d.%d.%d", &major, &minor, &patch)
	if err != nil {
		panic(err)
	}
	return NewVersion(major, minor, patch)
}

var (
	mtCurrentVersions sync.Mutex
	currentVersions   = make(map[resources.Type]Version)
)

// Register records the current on-disk format version for a resource
// kind. Called once from each package's init(); a second registration
// for the same kind is a programming error.
func Register(kind resources.Type, version Version) {
	mtCurrentVersions.Lock()
	defer mtCurrentVersions.Unlock()

	if _, ok := currentVersions[kind]; ok {
		panic(fmt.Sprintf("versioning: %s registered twice", kind))
	}
	currentVersions[kind] = version
}

// GetCurrentVersion returns the registered format version for a
// resource kind. Panics if nothing registered it.
func GetCurrentVersion(kind resources.Type) Version {
	mtCurrentVersions.Lock()
	defer mtCurrentVersions.Unlock()

	v, ok := currentVersions[kind]
	if !ok {
		panic(fmt.Sprintf("versioning: no version registered for %s", kind))
	}
	return v
}
