// Package kernel contains types describing BPF objects as reported by
// the kernel: map and program type enumerations and the per-object
// descriptors discovered after load. These are read-only data
// structures; the runtime adapter populates them, nothing mutates them.
package kernel

import "fmt"

// MapType is the kernel BPF map type enumeration (BPF_MAP_TYPE_*).
type MapType uint32

const (
	MapTypeUnspec MapType = iota
	MapTypeHash
	MapTypeArray
	MapTypeProgArray
	MapTypePerfEventArray
	MapTypePerCPUHash
	MapTypePerCPUArray
	MapTypeStackTrace
	MapTypeCgroupArray
	MapTypeLRUHash
	MapTypeLRUPerCPUHash
	MapTypeLPMTrie
	MapTypeArrayOfMaps
	MapTypeHashOfMaps
	MapTypeDevMap
	MapTypeSockMap
	MapTypeCPUMap
	MapTypeXSKMap
	MapTypeSockHash
	MapTypeCgroupStorage
	MapTypeReusePortSockArray
	MapTypePerCPUCgroupStorage
	MapTypeQueue
	MapTypeStack
	MapTypeSKStorage
	MapTypeDevMapHash
	MapTypeStructOps
	MapTypeRingbuf
	MapTypeInodeStorage
	MapTypeTaskStorage
	MapTypeBloomFilter
)

// MapTypeUnknown is the sentinel for map type values this package does
// not recognise. Unrecognised values decode to it rather than failing.
const MapTypeUnknown MapType = ^MapType(0)

var mapTypeNames = map[MapType]string{
	MapTypeUnspec:              "BPF_MAP_TYPE_UNSPEC",
	MapTypeHash:                "BPF_MAP_TYPE_HASH",
	MapTypeArray:               "BPF_MAP_TYPE_ARRAY",
	MapTypeProgArray:           "BPF_MAP_TYPE_PROG_ARRAY",
	MapTypePerfEventArray:      "BPF_MAP_TYPE_PERF_EVENT_ARRAY",
	MapTypePerCPUHash:          "BPF_MAP_TYPE_PERCPU_HASH",
	MapTypePerCPUArray:         "BPF_MAP_TYPE_PERCPU_ARRAY",
	MapTypeStackTrace:          "BPF_MAP_TYPE_STACK_TRACE",
	MapTypeCgroupArray:         "BPF_MAP_TYPE_CGROUP_ARRAY",
	MapTypeLRUHash:             "BPF_MAP_TYPE_LRU_HASH",
	MapTypeLRUPerCPUHash:       "BPF_MAP_TYPE_LRU_PERCPU_HASH",
	MapTypeLPMTrie:             "BPF_MAP_TYPE_LPM_TRIE",
	MapTypeArrayOfMaps:         "BPF_MAP_TYPE_ARRAY_OF_MAPS",
	MapTypeHashOfMaps:          "BPF_MAP_TYPE_HASH_OF_MAPS",
	MapTypeDevMap:              "BPF_MAP_TYPE_DEVMAP",
	MapTypeSockMap:             "BPF_MAP_TYPE_SOCKMAP",
	MapTypeCPUMap:              "BPF_MAP_TYPE_CPUMAP",
	MapTypeXSKMap:              "BPF_MAP_TYPE_XSKMAP",
	MapTypeSockHash:            "BPF_MAP_TYPE_SOCKHASH",
	MapTypeCgroupStorage:       "BPF_MAP_TYPE_CGROUP_STORAGE",
	MapTypeReusePortSockArray:  "BPF_MAP_TYPE_REUSEPORT_SOCKARRAY",
	MapTypePerCPUCgroupStorage: "BPF_MAP_TYPE_PERCPU_CGROUP_STORAGE",
	MapTypeQueue:               "BPF_MAP_TYPE_QUEUE",
	MapTypeStack:               "BPF_MAP_TYPE_STACK",
	MapTypeSKStorage:           "BPF_MAP_TYPE_SK_STORAGE",
	MapTypeDevMapHash:          "BPF_MAP_TYPE_DEVMAP_HASH",
	MapTypeStructOps:           "BPF_MAP_TYPE_STRUCT_OPS",
	MapTypeRingbuf:             "BPF_MAP_TYPE_RINGBUF",
	MapTypeInodeStorage:        "BPF_MAP_TYPE_INODE_STORAGE",
	MapTypeTaskStorage:         "BPF_MAP_TYPE_TASK_STORAGE",
	MapTypeBloomFilter:         "BPF_MAP_TYPE_BLOOM_FILTER",
}

// MapTypeOf converts a raw kernel map type value to a MapType,
// mapping values outside the known enumeration to MapTypeUnknown.
func MapTypeOf(v uint32) MapType {
	if _, ok := mapTypeNames[MapType(v)]; ok {
		return MapType(v)
	}
	return MapTypeUnknown
}

func (t MapType) String() string {
	if name, ok := mapTypeNames[t]; ok {
		return name
	}
	if t == MapTypeUnknown {
		return "BPF_MAP_TYPE_UNKNOWN"
	}
	return fmt.Sprintf("MapType(%d)", uint32(t))
}

// IsPerCPU reports whether values of this map type are stored per CPU.
func (t MapType) IsPerCPU() bool {
	switch t {
	case MapTypePerCPUHash, MapTypePerCPUArray, MapTypeLRUPerCPUHash, MapTypePerCPUCgroupStorage:
		return true
	}
	return false
}

// ProgramType is the kernel BPF program type enumeration (BPF_PROG_TYPE_*).
type ProgramType uint32

const (
	ProgramTypeUnspec ProgramType = iota
	ProgramTypeSocketFilter
	ProgramTypeKprobe
	ProgramTypeSchedCls
	ProgramTypeSchedAct
	ProgramTypeTracepoint
	ProgramTypeXDP
	ProgramTypePerfEvent
	ProgramTypeCgroupSkb
	ProgramTypeCgroupSock
	ProgramTypeLwtIn
	ProgramTypeLwtOut
	ProgramTypeLwtXmit
	ProgramTypeSockOps
	ProgramTypeSkSkb
	ProgramTypeCgroupDevice
	ProgramTypeSkMsg
	ProgramTypeRawTracepoint
	ProgramTypeCgroupSockAddr
	ProgramTypeLwtSeg6local
	ProgramTypeLircMode2
	ProgramTypeSkReuseport
	ProgramTypeFlowDissector
	ProgramTypeCgroupSysctl
	ProgramTypeRawTracepointWritable
	ProgramTypeCgroupSockopt
	ProgramTypeTracing
	ProgramTypeStructOps
	ProgramTypeExt
	ProgramTypeLSM
	ProgramTypeSkLookup
)

// ProgramTypeUnknown is the sentinel for program type values this
// package does not recognise.
const ProgramTypeUnknown ProgramType = ^ProgramType(0)

var programTypeNames = map[ProgramType]string{
	ProgramTypeUnspec:                "BPF_PROG_TYPE_UNSPEC",
	ProgramTypeSocketFilter:          "BPF_PROG_TYPE_SOCKET_FILTER",
	ProgramTypeKprobe:                "BPF_PROG_TYPE_KPROBE",
	ProgramTypeSchedCls:              "BPF_PROG_TYPE_SCHED_CLS",
	ProgramTypeSchedAct:              "BPF_PROG_TYPE_SCHED_ACT",
	ProgramTypeTracepoint:            "BPF_PROG_TYPE_TRACEPOINT",
	ProgramTypeXDP:                   "BPF_PROG_TYPE_XDP",
	ProgramTypePerfEvent:             "BPF_PROG_TYPE_PERF_EVENT",
	ProgramTypeCgroupSkb:             "BPF_PROG_TYPE_CGROUP_SKB",
	ProgramTypeCgroupSock:            "BPF_PROG_TYPE_CGROUP_SOCK",
	ProgramTypeLwtIn:                 "BPF_PROG_TYPE_LWT_IN",
	ProgramTypeLwtOut:                "BPF_PROG_TYPE_LWT_OUT",
	ProgramTypeLwtXmit:               "BPF_PROG_TYPE_LWT_XMIT",
	ProgramTypeSockOps:               "BPF_PROG_TYPE_SOCK_OPS",
	ProgramTypeSkSkb:                 "BPF_PROG_TYPE_SK_SKB",
	ProgramTypeCgroupDevice:          "BPF_PROG_TYPE_CGROUP_DEVICE",
	ProgramTypeSkMsg:                 "BPF_PROG_TYPE_SK_MSG",
	ProgramTypeRawTracepoint:         "BPF_PROG_TYPE_RAW_TRACEPOINT",
	ProgramTypeCgroupSockAddr:        "BPF_PROG_TYPE_CGROUP_SOCK_ADDR",
	ProgramTypeLwtSeg6local:          "BPF_PROG_TYPE_LWT_SEG6LOCAL",
	ProgramTypeLircMode2:             "BPF_PROG_TYPE_LIRC_MODE2",
	ProgramTypeSkReuseport:           "BPF_PROG_TYPE_SK_REUSEPORT",
	ProgramTypeFlowDissector:         "BPF_PROG_TYPE_FLOW_DISSECTOR",
	ProgramTypeCgroupSysctl:          "BPF_PROG_TYPE_CGROUP_SYSCTL",
	ProgramTypeRawTracepointWritable: "BPF_PROG_TYPE_RAW_TRACEPOINT_WRITABLE",
	ProgramTypeCgroupSockopt:         "BPF_PROG_TYPE_CGROUP_SOCKOPT",
	ProgramTypeTracing:               "BPF_PROG_TYPE_TRACING",
	ProgramTypeStructOps:             "BPF_PROG_TYPE_STRUCT_OPS",
	ProgramTypeExt:                   "BPF_PROG_TYPE_EXT",
	ProgramTypeLSM:                   "BPF_PROG_TYPE_LSM",
	ProgramTypeSkLookup:              "BPF_PROG_TYPE_SK_LOOKUP",
}

// ProgramTypeOf converts a raw kernel program type value to a
// ProgramType, mapping values outside the known enumeration to
// ProgramTypeUnknown.
func ProgramTypeOf(v uint32) ProgramType {
	if _, ok := programTypeNames[ProgramType(v)]; ok {
		return ProgramType(v)
	}
	return ProgramTypeUnknown
}

func (t ProgramType) String() string {
	if name, ok := programTypeNames[t]; ok {
		return name
	}
	if t == ProgramTypeUnknown {
		return "BPF_PROG_TYPE_UNKNOWN"
	}
	return fmt.Sprintf("ProgramType(%d)", uint32(t))
}

// UpdateFlags control map element update semantics. Values match the
// kernel's BPF_ANY, BPF_NOEXIST, BPF_EXIST and BPF_F_LOCK flags.
type UpdateFlags uint64

const (
	// UpdateAny creates a new element or updates an existing one.
	UpdateAny UpdateFlags = 0
	// UpdateNoExist creates a new element only if none exists.
	UpdateNoExist UpdateFlags = 1
	// UpdateExist updates an existing element only.
	UpdateExist UpdateFlags = 2
	// UpdateLock updates under the map's spin lock.
	UpdateLock UpdateFlags = 4
)

// MapInfo is the per-map metadata discovered after an object loads.
// Immutable once discovered; owned by the accessor built from it.
type MapInfo struct {
	Name       string
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	Flags      uint32
	FD         int
}

// ProgramInfo is the per-program metadata discovered after an object
// loads.
type ProgramInfo struct {
	Name string
	Type ProgramType
	FD   int
}
